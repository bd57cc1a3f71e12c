package utils

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Failure classes reported to operators when a Discord call fails.
const (
	ClassResourceMissing  = "resource_missing"
	ClassPermissionDenied = "permission_denied"
	ClassOther            = "other"
)

// ErrResourceMissing marks a channel, message, member or role that no longer
// exists, for failures detected before any REST call is made.
var ErrResourceMissing = errors.New("resource missing")

func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrResourceMissing) || errors.Is(err, discordgo.ErrStateNotFound) {
		return ClassResourceMissing
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return ClassResourceMissing
		case http.StatusForbidden:
			return ClassPermissionDenied
		}
	}
	return ClassOther
}

func IsResourceMissing(err error) bool {
	return Classify(err) == ClassResourceMissing
}
