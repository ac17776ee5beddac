package validation

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IdentifierRegex matches user, session and chain identifiers.
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	backgroundTypes = map[string]bool{
		"none":  true,
		"blur":  true,
		"image": true,
	}
)

func ValidateIdentifier(value, fieldName string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if utf8.RuneCountInString(value) > 128 {
		return fmt.Errorf("%s is too long (max 128 characters)", fieldName)
	}
	if !IdentifierRegex.MatchString(value) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateChainID accepts an empty chain id (default queue).
func ValidateChainID(chainID string) error {
	if chainID == "" {
		return nil
	}
	return ValidateIdentifier(chainID, "chain id")
}

func ValidateVolume(volume float64) error {
	if math.IsNaN(volume) || volume < 0 || volume > 1 {
		return fmt.Errorf("volume must be within [0, 1]")
	}
	return nil
}

func ValidateBitrate(bitrate int) error {
	if bitrate < 100 {
		return fmt.Errorf("bitrate must be at least 100 kbps")
	}
	if bitrate > 10000 {
		return fmt.Errorf("bitrate is too high (max 10000 kbps)")
	}
	return nil
}

func ValidateScreenType(screenType string) error {
	switch screenType {
	case "screen", "window", "tab":
		return nil
	}
	return fmt.Errorf("invalid screen type (must be screen, window, or tab)")
}

// ValidateBackground checks a virtual background selection. Image
// backgrounds require an http(s) URL.
func ValidateBackground(backgroundType, backgroundURL string) error {
	if !backgroundTypes[backgroundType] {
		return fmt.Errorf("invalid background type (must be none, blur, or image)")
	}
	if backgroundType != "image" {
		return nil
	}
	return ValidateURL(backgroundURL, "http", "https")
}

func ValidateURL(urlStr string, schemes ...string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("invalid URL scheme (must be one of %s)", strings.Join(schemes, ", "))
}
