package query

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/lutefd/telemetry-api/internal/metrics"
)

// Ingestion payloads use pointers for required fields so that an explicit
// zero (statusCode 0, success false, duration 0) is distinguishable from an
// absent field.

type RequestPayload struct {
	Method       *string  `json:"method" validate:"required,notblank"`
	Path         *string  `json:"path" validate:"required,notblank"`
	StatusCode   *int     `json:"statusCode" validate:"required,gte=100,lte=599"`
	Duration     *float64 `json:"duration" validate:"required,gte=0"`
	ResponseSize *int64   `json:"responseSize,omitempty" validate:"omitempty,gte=0"`
	UserAgent    string   `json:"userAgent,omitempty"`
	IP           string   `json:"ip,omitempty"`
}

func (p RequestPayload) Sample() metrics.RequestSample {
	s := metrics.RequestSample{
		Method:     strings.ToUpper(*p.Method),
		Path:       *p.Path,
		StatusCode: *p.StatusCode,
		DurationMs: *p.Duration,
		UserAgent:  p.UserAgent,
		ClientIP:   p.IP,
	}
	if p.ResponseSize != nil {
		s.ResponseSizeBytes = *p.ResponseSize
	}
	return s
}

type DatastorePayload struct {
	Operation  *string  `json:"operation" validate:"required,notblank"`
	Collection *string  `json:"collection" validate:"required,notblank"`
	Duration   *float64 `json:"duration" validate:"required,gte=0"`
	Success    *bool    `json:"success" validate:"required"`
	Error      string   `json:"error,omitempty"`
}

func (p DatastorePayload) Sample() metrics.DatastoreSample {
	s := metrics.DatastoreSample{
		Operation:  *p.Operation,
		Collection: *p.Collection,
		DurationMs: *p.Duration,
		Success:    *p.Success,
	}
	if !s.Success {
		s.Error = p.Error
	}
	return s
}

type BandwidthPayload struct {
	BytesIn           *int64   `json:"bytesIn" validate:"required,gte=0"`
	BytesOut          *int64   `json:"bytesOut" validate:"required,gte=0"`
	RequestsPerSecond *float64 `json:"requestsPerSecond" validate:"required,gte=0"`
}

func (p BandwidthPayload) Sample() metrics.BandwidthSample {
	return metrics.BandwidthSample{
		BytesIn:           *p.BytesIn,
		BytesOut:          *p.BytesOut,
		RequestsPerSecond: *p.RequestsPerSecond,
	}
}

var requiredFields = map[metrics.Kind][]string{
	metrics.KindRequest:   {"method", "path", "statusCode", "duration"},
	metrics.KindDatastore: {"operation", "collection", "duration", "success"},
	metrics.KindBandwidth: {"bytesIn", "bytesOut", "requestsPerSecond"},
}

// RequiredFields lists the fields an ingestion payload of kind must carry.
func RequiredFields(kind metrics.Kind) []string {
	return append([]string(nil), requiredFields[kind]...)
}

func MissingFieldsMessage(kind metrics.Kind) string {
	return "Champs requis : " + strings.Join(requiredFields[kind], ", ")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// notblank ships outside the built-in tag set.
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(fmt.Sprintf("register notblank: %v", err))
	}
	return v
}

func validatePayload(v *validator.Validate, kind metrics.Kind, payload any) error {
	err := v.Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &InternalError{Op: "validate " + kind.String() + " payload", Err: err}
	}

	var missing, invalid []string
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" || fe.Tag() == "notblank" {
			missing = append(missing, fe.Field())
			continue
		}
		invalid = append(invalid, fe.Field())
	}
	if len(missing) > 0 {
		return &ValidationError{
			Code:    CodeMissingFields,
			Message: MissingFieldsMessage(kind),
			Fields:  missing,
			Err:     err,
		}
	}
	return &ValidationError{
		Code:    CodeInvalidField,
		Message: fmt.Sprintf("Valeur invalide pour : %s", strings.Join(invalid, ", ")),
		Fields:  invalid,
		Err:     err,
	}
}
