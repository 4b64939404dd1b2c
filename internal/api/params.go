package api

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/activityquery/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("query"); name != "" {
			return name
		}
		return field.Name
	})
	return v
}

type entryActivitiesParams struct {
	EntryID string `query:"id" validate:"required,max=128"`
	Page    int    `query:"page" validate:"gte=0,lte=1000000"`
	Limit   int    `query:"limit" validate:"gte=0"`
	Source  string `query:"source" validate:"omitempty,max=64"`
}

type statsParams struct {
	GroupBy  string `query:"groupBy" validate:"required,oneof=source temporal"`
	Mode     string `query:"mode" validate:"omitempty,oneof=sandbox live"`
	Timezone string `query:"timezone" validate:"omitempty,max=64"`
}

type journalParams struct {
	Page                int    `query:"page" validate:"gte=0,lte=1000000"`
	Limit               int    `query:"limit" validate:"gte=0"`
	IncludeActivityMeta bool   `query:"includeActivityMeta"`
	FilterBySource      string `query:"filterBySource" validate:"omitempty,max=64"`
}

func parseEntryActivitiesParams(entryID string, q url.Values) (entryActivitiesParams, error) {
	p := entryActivitiesParams{
		EntryID: strings.TrimSpace(entryID),
		Source:  strings.TrimSpace(q.Get("source")),
	}
	var err error
	if p.Page, err = intParam(q, "page"); err != nil {
		return p, err
	}
	if p.Limit, err = intParam(q, "limit"); err != nil {
		return p, err
	}
	return p, validateStruct(p)
}

func parseStatsParams(q url.Values) (statsParams, error) {
	p := statsParams{
		GroupBy:  strings.TrimSpace(q.Get("groupBy")),
		Mode:     strings.ToLower(strings.TrimSpace(q.Get("mode"))),
		Timezone: strings.TrimSpace(q.Get("timezone")),
	}
	return p, validateStruct(p)
}

func parseJournalParams(q url.Values) (journalParams, error) {
	p := journalParams{FilterBySource: strings.TrimSpace(q.Get("filterBySource"))}
	var err error
	if p.Page, err = intParam(q, "page"); err != nil {
		return p, err
	}
	if p.Limit, err = intParam(q, "limit"); err != nil {
		return p, err
	}
	if p.IncludeActivityMeta, err = boolParam(q, "includeActivityMeta"); err != nil {
		return p, err
	}
	return p, validateStruct(p)
}

func intParam(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidArgument, key)
	}
	return n, nil
}

func boolParam(q url.Values, key string) (bool, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false", domain.ErrInvalidArgument, key)
	}
	return b, nil
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, fe.Field())
	case "oneof":
		return fmt.Errorf("%w: %s must be one of %s", domain.ErrInvalidArgument, fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidArgument, fe.Field())
	case "lte":
		return fmt.Errorf("%w: %s must be at most %s", domain.ErrInvalidArgument, fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", domain.ErrInvalidArgument, fe.Field())
	}
}

func invalidArgument(err error) error {
	if errors.Is(err, domain.ErrInvalidArgument) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
}
