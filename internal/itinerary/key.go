package itinerary

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const keyDelimiter = "|"

// DeriveCacheKey fingerprints a request. Case and surrounding whitespace of source, destination
// and budget are ignored, dates are reduced to their UTC calendar day and preference order does
// not matter. Model and requester are part of the key, so neither models nor users share entries.
func DeriveCacheKey(req Request) (string, error) {
	start, err := ParseDate(strings.TrimSpace(req.StartDate))
	if err != nil {
		return "", err
	}
	end, err := ParseDate(strings.TrimSpace(req.EndDate))
	if err != nil {
		return "", err
	}

	return digest(
		normalizeText(req.Source),
		normalizeText(req.Destination),
		FormatDate(start),
		FormatDate(end),
		req.Preferences.Canonical(),
		normalizeText(string(req.Budget)),
		req.Model,
		req.RequesterID,
	), nil
}

// DeriveFamilyKey fingerprints everything except dates and model: itineraries sharing it are
// reschedules of the same trip.
func DeriveFamilyKey(req Request) string {
	return digest(
		normalizeText(req.Source),
		normalizeText(req.Destination),
		req.Preferences.Canonical(),
		normalizeText(string(req.Budget)),
		req.RequesterID,
	)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, keyDelimiter)))
	return hex.EncodeToString(sum[:])
}
