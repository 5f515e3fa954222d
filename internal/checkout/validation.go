package checkout

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Form is the customer part of the checkout form. The payment token is never part of it.
type Form struct {
	Email      string `json:"email" validate:"required,email"`
	FirstName  string `json:"first_name" validate:"required"`
	LastName   string `json:"last_name" validate:"required"`
	Phone      string `json:"phone" validate:"required,min=7"`
	Street     string `json:"street" validate:"required"`
	Apartment  string `json:"apartment"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	Zip        string `json:"zip" validate:"required"`
	Country    string `json:"country"`
	AgreeTerms bool   `json:"agree_terms" validate:"required"`
}

// Address is the subset of the form the tax lookup depends on.
type Address struct {
	Country string `json:"country"`
	Zip     string `json:"zip"`
	State   string `json:"state"`
	City    string `json:"city"`
	Street  string `json:"street"`
}

func (f Form) Address() Address {
	return Address{Country: f.Country, Zip: f.Zip, State: f.State, City: f.City, Street: f.Street}
}

func (f *Form) SetAddress(a Address) {
	f.Country, f.Zip, f.State, f.City, f.Street = a.Country, a.Zip, a.State, a.City, a.Street
}

// complete reports whether every field the tax service needs is present.
func (a Address) complete() bool {
	return a.Country != "" && a.Zip != "" && a.State != "" && a.City != "" && a.Street != ""
}

var fieldLabels = map[string]string{
	"Email":      "email",
	"FirstName":  "first name",
	"LastName":   "last name",
	"Phone":      "phone number",
	"Street":     "address",
	"City":       "city",
	"State":      "state",
	"Zip":        "zip code",
	"AgreeTerms": "terms agreement",
}

var validate = validator.New()

// validateForm collects every problem with the form and the age gate in one list.
func validateForm(form Form, ageVerified bool) []string {
	var problems []string

	if err := validate.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []string{err.Error()}
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	if !ageVerified {
		problems = append(problems, "age verification is required")
	}
	return problems
}

func describe(fe validator.FieldError) string {
	label := fieldLabels[fe.StructField()]
	if label == "" {
		label = fe.Field()
	}
	switch {
	case fe.StructField() == "AgreeTerms":
		return "you must agree to the terms and conditions"
	case fe.Tag() == "email":
		return "email format is invalid"
	case fe.Tag() == "min":
		return fmt.Sprintf("%s is too short", label)
	default:
		return fmt.Sprintf("%s is required", label)
	}
}
