package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/mealdash/internal/model"
)

// SignUpInput はサインアップの入力値。
type SignUpInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,bcrypt-len"`
	FullName string `json:"full_name" validate:"max=120"`
	Role     string `json:"role" validate:"omitempty,user-role"`
}

// newValidator はサインアップ用のカスタムルールを登録したvalidatorを生成する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// エラーメッセージにはJSONのフィールド名を使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("user-role", validateUserRole); err != nil {
		panic(fmt.Sprintf("failed to register user-role validation: %v", err))
	}
	if err := v.RegisterValidation("bcrypt-len", validateBcryptLength); err != nil {
		panic(fmt.Sprintf("failed to register bcrypt-len validation: %v", err))
	}
	return v
}

// maxPasswordBytes はbcryptが受け付けるパスワードの最大バイト数。
const maxPasswordBytes = 72

// validateBcryptLength は文字数ではなくバイト数で上限を検証する。
func validateBcryptLength(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= maxPasswordBytes
}

func validateUserRole(fl validator.FieldLevel) bool {
	_, err := model.ParseRole(fl.Field().String())
	return err == nil
}

// validationError は検証エラーを利用者向けのAPIErrorに変換する。
// 複数のエラーがある場合は最初の1件のみを返す。
func validationError(err error) *model.APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewInvalidInputError("Invalid input")
	}

	fe := verrs[0]
	switch fe.Field() {
	case "email":
		if fe.Tag() == "required" {
			return model.NewInvalidInputError("Email is required")
		}
		return model.NewInvalidInputError("Unable to validate email address: invalid format")
	case "password":
		switch fe.Tag() {
		case "required":
			return model.NewInvalidInputError("Password is required")
		case "min":
			return model.NewInvalidInputError("Password should be at least 6 characters")
		default:
			return model.NewInvalidInputError(fmt.Sprintf("Password should be at most %d bytes", maxPasswordBytes))
		}
	case "full_name":
		return model.NewInvalidInputError("Full name should be at most 120 characters")
	case "role":
		return model.NewInvalidRoleError(fmt.Sprint(fe.Value()))
	default:
		return model.NewInvalidInputError(fmt.Sprintf("Invalid value for %s", fe.Field()))
	}
}
