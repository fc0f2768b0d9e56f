// Package validation checks user-submitted fields. Rules for a field run in a fixed
// order and a later failing rule overwrites the earlier message.
package validation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"
)

const (
	msgFirstNameLength = "First name must be between 1 and 20 characters"
	msgFirstNameEmpty  = "First name field is required"
	msgLastNameLength  = "Last name must be between 1 and 20 characters"
	msgLastNameEmpty   = "Last name field is required"
	msgUserNameLength  = "User name must be between 1 and 20 characters"
	msgUserNameEmpty   = "User name field is required"
	msgEmailInvalid    = "Email is invalid"
	msgEmailEmpty      = "Email field is required"
	msgPasswordWeak    = "A good password should contain uppercase, lowercase, special characters @#$%&^+=! , digits and above 8 characters"
	msgPasswordEmpty   = "Password field is required"
	msgPasswordMatch   = "Passwords must match!!!"
	msgConfirmEmpty    = "Confirm password field is required"
	msgQuestionLength  = "The minimum character expected is 3 while maximum is 255"
	msgQuestionEmpty   = "Question field is required"
	msgAnswerEmpty     = "Answer field is required"
	msgAnswerLength    = "The minimum character expected is 5 while maximum is 400"
	msgCommentEmpty    = "Comment field is required"
	msgCommentLength   = "The minimum character expected is 1 while maximum is 100"
)

// Result carries one message per failing field.
type Result struct {
	Errors  map[string]string
	IsValid bool
}

type Signup struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	UserName        string `json:"userName"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type Login struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Question struct {
	Question string `json:"question"`
}

type Answer struct {
	Answer string `json:"answer"`
}

type Comment struct {
	Comment string `json:"comment"`
}

// ValidateSignup normalizes in place, so the caller persists the same values that were checked.
func ValidateSignup(in *Signup) Result {
	errs := map[string]string{}
	in.FirstName = normalize(in.FirstName)
	in.LastName = normalize(in.LastName)
	in.UserName = normalize(in.UserName)
	in.Email = normalize(in.Email)
	in.Password = normalize(in.Password)
	in.ConfirmPassword = normalize(in.ConfirmPassword)

	nameField(errs, "firstName", in.FirstName, msgFirstNameLength, msgFirstNameEmpty)
	nameField(errs, "lastName", in.LastName, msgLastNameLength, msgLastNameEmpty)
	nameField(errs, "userName", in.UserName, msgUserNameLength, msgUserNameEmpty)
	emailField(errs, in.Email)

	if !StrongPassword(in.Password) {
		errs["password"] = msgPasswordWeak
	}
	if in.Password == "" {
		errs["password"] = msgPasswordEmpty
	}
	if in.Password != in.ConfirmPassword {
		errs["confirmPassword"] = msgPasswordMatch
	}
	if in.ConfirmPassword == "" {
		errs["confirmPassword"] = msgConfirmEmpty
	}
	return result(errs)
}

func ValidateLogin(in *Login) Result {
	errs := map[string]string{}
	in.Email = normalize(in.Email)
	in.Password = normalize(in.Password)

	emailField(errs, in.Email)
	if in.Password == "" {
		errs["password"] = msgPasswordEmpty
	}
	return result(errs)
}

func ValidateQuestion(in *Question) Result {
	errs := map[string]string{}
	in.Question = normalize(in.Question)

	if !lengthBetween(in.Question, 3, 255) {
		errs["question"] = msgQuestionLength
	}
	if in.Question == "" {
		errs["question"] = msgQuestionEmpty
	}
	return result(errs)
}

// ValidateAnswer checks emptiness before length, so an empty answer reports the length message.
func ValidateAnswer(in *Answer) Result {
	errs := map[string]string{}
	in.Answer = normalize(in.Answer)

	if in.Answer == "" {
		errs["answer"] = msgAnswerEmpty
	}
	if !lengthBetween(in.Answer, 5, 400) {
		errs["answer"] = msgAnswerLength
	}
	return result(errs)
}

// ValidateComment enforces only the upper bound; an empty comment is caught by the required rule.
func ValidateComment(in *Comment) Result {
	errs := map[string]string{}
	in.Comment = normalize(in.Comment)

	if in.Comment == "" {
		errs["comment"] = msgCommentEmpty
	}
	if utf8.RuneCountInString(in.Comment) > 100 {
		errs["comment"] = msgCommentLength
	}
	return result(errs)
}

var (
	hasUpper   = regexp.MustCompile(`[A-Z]`)
	hasLower   = regexp.MustCompile(`[a-z]`)
	hasDigit   = regexp.MustCompile(`[0-9]`)
	hasSpecial = regexp.MustCompile(`[@#$%&^+=!]`)
)

// StrongPassword requires at least 8 characters with an upper, a lower, a digit and one of @#$%&^+=!.
func StrongPassword(value string) bool {
	if utf8.RuneCountInString(value) < 8 || strings.ContainsAny(value, "\r\n\u2028\u2029") {
		return false
	}
	return hasUpper.MatchString(value) &&
		hasLower.MatchString(value) &&
		hasDigit.MatchString(value) &&
		hasSpecial.MatchString(value)
}

func nameField(errs map[string]string, field, value, lengthMsg, emptyMsg string) {
	if !lengthBetween(value, 1, 20) {
		errs[field] = lengthMsg
	}
	if value == "" {
		errs[field] = emptyMsg
	}
}

func emailField(errs map[string]string, value string) {
	if !govalidator.IsEmail(value) {
		errs["email"] = msgEmailInvalid
	}
	if value == "" {
		errs["email"] = msgEmailEmpty
	}
}

// normalize maps blank input to the empty string and leaves anything else untouched.
func normalize(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return value
}

func lengthBetween(value string, lo, hi int) bool {
	return govalidator.StringLength(value, strconv.Itoa(lo), strconv.Itoa(hi))
}

func result(errs map[string]string) Result {
	return Result{Errors: errs, IsValid: len(errs) == 0}
}
