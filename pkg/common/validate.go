package common

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator"
	"github.com/invopop/jsonschema"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks a payload before it is projected. A payload without
// companies yields ErrEmptyResult, a company without a domain
// ErrMissingDomain, any other violation ErrInvalidInput.
func (p *Payload) Validate() error {
	if len(p.Companies) == 0 {
		return fmt.Errorf("%w: payload has no companies", ErrEmptyResult)
	}
	for i, c := range p.Companies {
		if strings.TrimSpace(c.Domain) == "" {
			return fmt.Errorf("%w: companies[%d] id=%q", ErrMissingDomain, i, c.ID)
		}
	}
	if err := structValidator().Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func reflectSchema(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// PayloadSchema describes companies.json.
func PayloadSchema() *jsonschema.Schema {
	return reflectSchema(&Payload{})
}

// SidecarSchema describes _meta.json.
func SidecarSchema() *jsonschema.Schema {
	return reflectSchema(&Sidecar{})
}
