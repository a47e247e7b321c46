package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// ParsePage reads a page number from a query parameter. Anything that is not
// a positive integer means the first page.
func ParsePage(raw string) int {
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 1
	}
	return page
}

// Paginate turns a requested page into a window over total items. Any page
// outside the valid range, below or above, clamps to the last page instead of
// erroring, so a stale link never 404s.
func Paginate(total int64, page, pageSize int) (current, offset, totalPages int) {
	totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}
	current = page
	if current < 1 || current > totalPages {
		current = totalPages
	}
	offset = (current - 1) * pageSize
	return current, offset, totalPages
}

// PageMeta is the pagination block attached to every list payload.
func PageMeta(current, pageSize, totalPages int, total int64) gin.H {
	return gin.H{
		"page":        current,
		"page_size":   pageSize,
		"total":       total,
		"total_pages": totalPages,
	}
}
