package eligibility

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-eligibility/core"
)

var (
	slugTag   = "slug"
	slugText  = "only lowercase letters, digits and hyphens are allowed"
	slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	docTypeTag  = "doc_type"
	docTypeText = "invalid document type"

	docMimeTag  = "doc_mime"
	docMimeText = "only PDF, JPEG and PNG files are allowed"

	actionTag  = "eligibility_action"
	actionText = "action must be one of APPROVE, REJECT or REQUIRES_MORE_INFO"

	bulkActionTag  = "bulk_action"
	bulkActionText = "action must be one of APPROVE, REJECT, REQUIRES_MORE_INFO or REQUEST_INFO"
)

// RegisterValidators adds the eligibility validation tags to v.
func RegisterValidators(v *core.Validator) {
	v.Register(slugTag, slugText, slugValidation)
	v.Register(docTypeTag, docTypeText, docTypeValidation)
	v.Register(docMimeTag, docMimeText, docMimeValidation)
	v.Register(actionTag, actionText, actionValidation)
	v.Register(bulkActionTag, bulkActionText, bulkActionValidation)
}

// Custom Validators

func slugValidation(fl validator.FieldLevel) bool {
	return slugRegex.MatchString(fl.Field().String())
}

func docTypeValidation(fl validator.FieldLevel) bool {
	if t, ok := fl.Field().Interface().(DocumentType); ok {
		return t.Valid()
	}
	return false
}

func docMimeValidation(fl validator.FieldLevel) bool {
	mime := fl.Field().String()
	for _, allowed := range AllowedMimeTypes {
		if mime == allowed {
			return true
		}
	}
	return false
}

func actionValidation(fl validator.FieldLevel) bool {
	a, ok := fl.Field().Interface().(Action)
	if !ok {
		return false
	}
	_, ok = decisionRules[a]
	return ok
}

// bulkActionValidation also accepts the REQUEST_INFO spelling.
func bulkActionValidation(fl validator.FieldLevel) bool {
	a, ok := fl.Field().Interface().(Action)
	if !ok {
		return false
	}
	_, ok = decisionRules[a.Normalize()]
	return ok
}
