package domain

import "github.com/go-playground/validator/v10"

// validate is the package-level validator instance shared by all Validate
// methods. Struct-level required fields are enforced for embedded structs.
var validate = validator.New(validator.WithRequiredStructEnabled())
