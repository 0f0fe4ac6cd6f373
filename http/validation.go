package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strings"

	"diabetesapi/ml"
	"github.com/go-playground/validator/v10"
)

// predictRequest mirrors ml.Features with pointers so absent fields can be
// told apart from zero values. Integer fields are decoded as numbers and
// checked for a fractional part.
type predictRequest struct {
	Pregnancies   *float64 `json:"Pregnancies" validate:"required,whole,gte=0,lte=20"`
	Glucose       *float64 `json:"Glucose" validate:"required,gte=50,lte=300"`
	BloodPressure *float64 `json:"BloodPressure" validate:"required,gte=40,lte=150"`
	BMI           *float64 `json:"BMI" validate:"required,gte=15,lte=60"`
	Age           *float64 `json:"Age" validate:"required,whole,gte=18,lte=100"`
}

func (p predictRequest) features() ml.Features {
	return ml.Features{
		Pregnancies:   int(*p.Pregnancies),
		Glucose:       *p.Glucose,
		BloodPressure: *p.BloodPressure,
		BMI:           *p.BMI,
		Age:           int(*p.Age),
	}
}

// FieldError is one entry of a 422 response body.
type FieldError struct {
	Type  string        `json:"type"`
	Loc   []interface{} `json:"loc"`
	Msg   string        `json:"msg"`
	Input interface{}   `json:"input"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("whole", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return f == math.Trunc(f)
	})
	return v
}

// decodePredictRequest reads and validates the body. A non-nil slice means
// the request must be rejected with 422.
func decodePredictRequest(body io.Reader, validate *validator.Validate) (predictRequest, []FieldError) {
	var req predictRequest
	raw, err := readSingleValue(body)
	if err != nil {
		return req, []FieldError{decodeError(err)}
	}

	// encoding/json folds key case; only the exact field names count.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return req, []FieldError{decodeError(err)}
	}
	exact := make(map[string]json.RawMessage, len(fields))
	for _, name := range ml.FeatureNames() {
		if v, ok := fields[name]; ok {
			exact[name] = v
		}
	}
	canonical, err := json.Marshal(exact)
	if err != nil {
		return req, []FieldError{decodeError(err)}
	}
	if err := json.Unmarshal(canonical, &req); err != nil {
		return req, []FieldError{decodeError(err)}
	}

	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return req, []FieldError{{Type: "value_error", Loc: []interface{}{"body"}, Msg: err.Error(), Input: nil}}
		}
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldError(fe))
		}
		return req, details
	}
	return req, nil
}

var errTrailingData = errors.New("unexpected data after top-level value")

// readSingleValue returns the one JSON value in body and rejects anything
// but whitespace after it.
func readSingleValue(body io.Reader) (json.RawMessage, error) {
	dec := json.NewDecoder(body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errTrailingData
		}
		return nil, err
	}
	return raw, nil
}

func decodeError(err error) FieldError {
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return FieldError{Type: "missing", Loc: []interface{}{"body"}, Msg: "Field required", Input: nil}
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return FieldError{
			Type:  "float_parsing",
			Loc:   []interface{}{"body", typeErr.Field},
			Msg:   "Input should be a valid number",
			Input: nil,
		}
	case errors.As(err, &typeErr):
		return FieldError{
			Type:  "model_attributes_type",
			Loc:   []interface{}{"body"},
			Msg:   "Input should be a valid dictionary or object to extract fields from",
			Input: nil,
		}
	case errors.As(err, &maxErr):
		return FieldError{Type: "too_large", Loc: []interface{}{"body"}, Msg: "Request body too large", Input: nil}
	default:
		return FieldError{Type: "json_invalid", Loc: []interface{}{"body"}, Msg: "JSON decode error", Input: err.Error()}
	}
}

func fieldError(fe validator.FieldError) FieldError {
	detail := FieldError{
		Loc:   []interface{}{"body", fe.Field()},
		Input: fe.Value(),
	}
	if v, ok := fe.Value().(*float64); ok && v != nil {
		detail.Input = *v
	}
	switch fe.Tag() {
	case "required":
		detail.Type = "missing"
		detail.Msg = "Field required"
		detail.Input = nil
	case "whole":
		detail.Type = "int_from_float"
		detail.Msg = "Input should be a valid integer, got a number with a fractional part"
	case "gte":
		detail.Type = "greater_than_equal"
		detail.Msg = fmt.Sprintf("Input should be greater than or equal to %s", fe.Param())
	case "lte":
		detail.Type = "less_than_equal"
		detail.Msg = fmt.Sprintf("Input should be less than or equal to %s", fe.Param())
	default:
		detail.Type = fe.Tag()
		detail.Msg = fe.Error()
	}
	return detail
}
