package posting

import (
	"fmt"
	"strings"

	"substitution-marketplace/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// createSchema is the structural contract for posting creation. Cross-field
// rules that JSON Schema cannot express cleanly, like scheduling-mode field
// exclusivity, are enforced in validateScheduling.
const createSchema = `{
  "type": "object",
  "required": ["ownerType", "ownerId", "schedulingMode", "compensationMode"],
  "properties": {
    "ownerType": {
      "type": "string",
      "enum": ["PROFESSIONAL", "CLINIC"]
    },
    "ownerId": {
      "type": "string",
      "minLength": 1
    },
    "requiredSpecialty": {
      "type": "string"
    },
    "minimumYearsLicensed": {
      "type": "integer",
      "minimum": 0
    },
    "schedulingMode": {
      "type": "string",
      "enum": ["IMMEDIATE", "SPECIFIC_DATE", "RANGE"]
    },
    "specificDate": {
      "type": "string",
      "format": "date-time"
    },
    "rangeStart": {
      "type": "string",
      "format": "date-time"
    },
    "rangeEnd": {
      "type": "string",
      "format": "date-time"
    },
    "compensationMode": {
      "type": "string",
      "enum": ["DAILY_RATE", "PERCENTAGE"]
    },
    "dailyRate": {
      "type": "number",
      "minimum": 0
    },
    "percentage": {
      "type": "number",
      "minimum": 0,
      "maximum": 100
    },
    "draft": {
      "type": "boolean"
    }
  }
}`

var compiledCreateSchema = gojsonschema.NewStringLoader(createSchema)

func validatePayload(input *CreateInput) error {
	documentLoader := gojsonschema.NewGoLoader(input.asDocument())

	result, err := gojsonschema.Validate(compiledCreateSchema, documentLoader)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("schema validation error: %v", err))
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return errors.NewValidationError(strings.Join(errs, "; "))
	}

	return nil
}
