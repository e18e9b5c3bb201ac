package apikey

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func validateID(id, label string) error {
	if id == "" {
		return validationErrorf("%s must not be empty", label)
	}
	if len(id) > MaxIDLength {
		return validationErrorf("%s exceeds maximum length of %d", label, MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return validationErrorf("%s contains invalid UTF-8", label)
	}
	for _, r := range id {
		if r == ':' || r == '/' {
			return validationErrorf("%s contains forbidden character %q", label, r)
		}
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return validationErrorf("%s contains whitespace or control character", label)
		}
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return validationErrorf("name must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return validationErrorf("name exceeds maximum length of %d", MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return validationErrorf("name contains control character")
		}
	}
	return nil
}

func validateEnvironment(env Environment) error {
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return nil
	default:
		return validationErrorf("invalid environment %q", env)
	}
}

func validateTags(tags []string) error {
	if len(tags) > MaxTagCount {
		return validationErrorf("tag count %d exceeds maximum of %d", len(tags), MaxTagCount)
	}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			return validationErrorf("tags must not be empty")
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return validationErrorf("tag %q exceeds maximum length of %d", tag, MaxTagLength)
		}
		for _, r := range tag {
			if unicode.IsControl(r) || unicode.IsSpace(r) {
				return validationErrorf("tag %q contains whitespace or control character", tag)
			}
		}
		if _, dup := seen[tag]; dup {
			return validationErrorf("duplicate tag %q", tag)
		}
		seen[tag] = struct{}{}
	}
	return nil
}

func validateSecret(secret string) error {
	if secret == "" {
		return validationErrorf("secret must not be empty")
	}
	if len(secret) > MaxSecretSize {
		return validationErrorf("secret size %d exceeds maximum of %d bytes", len(secret), MaxSecretSize)
	}
	return nil
}

func validatePassphrase(passphrase string) error {
	if utf8.RuneCountInString(passphrase) < MinPassphraseLength {
		return validationErrorf("passphrase must be at least %d characters", MinPassphraseLength)
	}
	return nil
}

func (in CreateInput) validate() error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	if err := validateEnvironment(in.Environment); err != nil {
		return err
	}
	if err := validateTags(in.Tags); err != nil {
		return err
	}
	if err := validateSecret(in.Secret); err != nil {
		return err
	}
	return validatePassphrase(in.Passphrase)
}

func (in UpdateInput) validate() error {
	if in.Name != nil {
		if err := validateName(*in.Name); err != nil {
			return err
		}
	}
	if in.Environment != nil {
		if err := validateEnvironment(*in.Environment); err != nil {
			return err
		}
	}
	if in.Tags != nil {
		return validateTags(*in.Tags)
	}
	return nil
}
