package utils

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"

	"github.com/mmdatafocus/lg_backend/config"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// ValidatePhoneNumber accepts a phone number in international or local form.
// The default region applies when the number carries no country prefix.
func ValidatePhoneNumber(phone string, defaultRegion string) error {
	if defaultRegion == "" {
		defaultRegion = "MM"
	}
	num, err := libphonenumber.Parse(phone, defaultRegion)
	if err != nil {
		return fmt.Errorf("invalid phone number: %w", err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return fmt.Errorf("invalid phone number: %s", phone)
	}
	return nil
}

// ParseDecimal parses a numeric string after stripping thousands separators.
func ParseDecimal(value string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty decimal value")
	}
	return decimal.NewFromString(cleaned)
}

func ProcessValidationErrors(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		out["error"] = err.Error()
		return out
	}
	for _, fieldErr := range validationErrors {
		out[fieldErr.Field()] = fmt.Sprintf("failed on '%s' validation", fieldErr.Tag())
	}
	return out
}

func UniqueSlice(input []string) []string {
	seen := map[string]bool{}
	result := []string{}
	for _, v := range input {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

func DereferencePtr[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func NewString(s string) *string {
	return &s
}

// ConvertToDate truncates a timestamp to midnight in its own location.
func ConvertToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// BusinessLock obtains a distributed lock scoped to one business. Callers must
// Release the returned lock. Returns redislock.ErrNotObtained when another
// worker holds it.
func BusinessLock(ctx context.Context, name string, businessId string, ttl time.Duration) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, fmt.Errorf("redis lock client not initialized")
	}
	key := fmt.Sprintf("Lock:%s:%s", name, businessId)
	return locker.Obtain(ctx, key, ttl, nil)
}
