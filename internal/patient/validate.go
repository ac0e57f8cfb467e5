package patient

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"golang.org/x/text/unicode/norm"
)

//go:embed schema.cue
var schemaSource string

// DateLayout is the only accepted date of birth format.
const DateLayout = "2006-01-02"

// schema holds the compiled CUE definitions. cue.Value is not safe for
// concurrent unification, so access goes through mu.
var schema struct {
	once    sync.Once
	mu      sync.Mutex
	ctx     *cue.Context
	input   cue.Value
	partial cue.Value
	err     error
}

func loadSchema() error {
	schema.once.Do(func() {
		schema.ctx = cuecontext.New()
		v := schema.ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schema.err = fmt.Errorf("compile patient schema: %w", err)
			return
		}
		schema.input = v.LookupPath(cue.ParsePath("#PatientInput"))
		schema.partial = v.LookupPath(cue.ParsePath("#PatientPartial"))
	})
	return schema.err
}

// ValidateInput normalizes and validates an insert payload.
// Returns the normalized input, or a validation *Error.
func ValidateInput(in Input) (Input, error) {
	in = Input{
		Name:    normalize(in.Name),
		DOB:     strings.TrimSpace(in.DOB),
		Email:   normalize(in.Email),
		Phone:   normalize(in.Phone),
		Address: normalize(in.Address),
	}

	if in.Name == "" {
		return Input{}, NewValidationError("name", "name is required")
	}
	if in.DOB == "" {
		return Input{}, NewValidationError("dob", "dob is required")
	}

	doc := map[string]any{"name": in.Name, "dob": in.DOB}
	setIfPresent(doc, "email", in.Email)
	setIfPresent(doc, "phone", in.Phone)
	setIfPresent(doc, "address", in.Address)

	if err := checkSchema(func() cue.Value { return schema.input }, doc); err != nil {
		return Input{}, err
	}
	if err := checkCalendarDate(in.DOB); err != nil {
		return Input{}, err
	}
	return in, nil
}

// ValidatePartial normalizes and validates an update payload. An empty
// partial is valid.
func ValidatePartial(p Partial) (Partial, error) {
	out := Partial{
		Name:    normalizePtr(p.Name),
		DOB:     trimPtr(p.DOB),
		Email:   normalizePtr(p.Email),
		Phone:   normalizePtr(p.Phone),
		Address: normalizePtr(p.Address),
	}

	if out.Name != nil && *out.Name == "" {
		return Partial{}, NewValidationError("name", "name cannot be empty")
	}
	if out.DOB != nil && *out.DOB == "" {
		return Partial{}, NewValidationError("dob", "dob cannot be empty")
	}

	doc := map[string]any{}
	for field, v := range map[string]*string{
		"name": out.Name, "dob": out.DOB, "email": out.Email, "phone": out.Phone, "address": out.Address,
	} {
		if v != nil {
			doc[field] = *v
		}
	}

	if err := checkSchema(func() cue.Value { return schema.partial }, doc); err != nil {
		return Partial{}, err
	}
	if out.DOB != nil {
		if err := checkCalendarDate(*out.DOB); err != nil {
			return Partial{}, err
		}
	}
	return out, nil
}

func checkSchema(def func() cue.Value, doc map[string]any) error {
	if err := loadSchema(); err != nil {
		return err
	}

	schema.mu.Lock()
	defer schema.mu.Unlock()

	v := def().Unify(schema.ctx.Encode(doc))
	err := v.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return NewValidationError("", err.Error())
	}
	first := errs[0]
	format, args := first.Msg()
	return &Error{
		Code:    CodeValidation,
		Field:   fieldFromPath(first.Path()),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// fieldFromPath picks the last regular label; definition labels such as
// #PatientInput are skipped.
func fieldFromPath(path []string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if !strings.HasPrefix(path[i], "#") {
			return path[i]
		}
	}
	return ""
}

func checkCalendarDate(dob string) error {
	d, err := time.Parse(DateLayout, dob)
	if err != nil {
		return NewValidationError("dob", fmt.Sprintf("invalid calendar date %q", dob))
	}
	if d.Format(DateLayout) != dob {
		return NewValidationError("dob", fmt.Sprintf("invalid calendar date %q", dob))
	}
	return nil
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func normalizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := normalize(*s)
	return &v
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func setIfPresent(doc map[string]any, field, value string) {
	if value != "" {
		doc[field] = value
	}
}
