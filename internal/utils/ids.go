package utils

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func ValidID(id string) bool {
	parsed, err := snowflake.Parse(id)
	return err == nil && parsed != 0
}

// CreatedAt decodes the creation time embedded in a Discord id.
func CreatedAt(id string) (time.Time, bool) {
	parsed, err := snowflake.Parse(id)
	if err != nil || parsed == 0 {
		return time.Time{}, false
	}
	return parsed.Time(), true
}
