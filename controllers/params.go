package controllers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

func parseUintParam(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(id), nil
}

// parseDateQuery reads ?date=YYYY-MM-DD, defaulting to yesterday.
func parseDateQuery(c *gin.Context, now time.Time) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return now.AddDate(0, 0, -1), nil
	}
	date, err := time.ParseInLocation(dateLayout, raw, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("date must look like %s", dateLayout)
	}
	return date, nil
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
