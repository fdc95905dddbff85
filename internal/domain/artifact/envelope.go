package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

// Sentinel kinds for artifact errors.
var (
	ErrInvalidKey      = errors.New("invalid cache key")
	ErrInvalidArtifact = errors.New("invalid artifact")
	ErrUnknownArtifact = errors.New("unknown artifact type")
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("finite", validateFinite)
}

func validateFinite(fl validator.FieldLevel) bool {
	f := fl.Field()
	if f.Kind() != reflect.Float64 && f.Kind() != reflect.Float32 {
		return false
	}
	v := f.Float()
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// RerankResponse is the structured output of the LLM reranking operator.
// An empty item list is valid; an item without evidence is not.
type RerankResponse struct {
	Items []RerankItem `json:"items" validate:"dive"`
}

// RerankItem scores one candidate.
type RerankItem struct {
	Candidate string   `json:"candidate" validate:"required"`
	Score     float64  `json:"score" validate:"finite,gte=0,lte=1"`
	Evidence  []string `json:"evidence" validate:"required,min=1,dive,required"`
	Rationale string   `json:"rationale,omitempty"`
}

// DecodeRerank strictly decodes and validates a rerank response.
func DecodeRerank(raw []byte) (RerankResponse, error) {
	var resp RerankResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&resp); err != nil {
		return RerankResponse{}, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, TypeLLMRerank, err)
	}
	if resp.Items == nil {
		resp.Items = []RerankItem{}
	}
	if err := validate.Struct(resp); err != nil {
		return RerankResponse{}, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, TypeLLMRerank, err)
	}
	return resp, nil
}

// Validate checks raw against the envelope registered for typ. It is run
// by the cache on every write and every read.
func Validate(typ Type, raw []byte) error {
	switch typ {
	case TypeLLMRerank:
		_, err := DecodeRerank(raw)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownArtifact, typ)
	}
}
