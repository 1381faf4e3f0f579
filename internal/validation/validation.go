// Package validation はフォーム入力の検証を提供する。
// 検証エラーはmodel.ValidationErrorとして返し、プラットフォームへは送信しない。
package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/packmart/internal/model"
)

// emailPattern はメールアドレスとして受け付ける形。
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("email_shape", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return model.IsValidCategory(fl.Field().String())
	})
	v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// LoginInput はログインフォームの入力。
type LoginInput struct {
	Email    string `validate:"required,email_shape"`
	Password string `validate:"required"`
}

// SignupInput はサインアップフォームの入力。
type SignupInput struct {
	Email       string `validate:"required,email_shape"`
	Password    string `validate:"required,min=6"`
	Role        string `validate:"required,oneof=buyer supplier"`
	CompanyName string `validate:"required_if=Role supplier"`
}

// ProfileInput はプロフィール補完フォームの入力。
type ProfileInput struct {
	Role        string `validate:"required,oneof=buyer supplier"`
	CompanyName string `validate:"required_if=Role supplier"`
}

// CompanyNameInput は会社名設定フォームの入力。
type CompanyNameInput struct {
	CompanyName string `validate:"required,notblank,max=200"`
}

// ProductInput は商品登録フォームの入力。画像の有無は呼び出し元で設定する。
type ProductInput struct {
	Name        string  `validate:"required,notblank,max=200"`
	Description string  `validate:"required,notblank"`
	Price       float64 `validate:"gt=0"`
	Category    string  `validate:"required,category"`
	MinOrderQty int     `validate:"gt=0"`
	HasImage    bool    `validate:"eq=true"`
}

// MaxMessageLength はメッセージ本文の最大文字数。
const MaxMessageLength = 2000

// MessageInput はメッセージ送信の入力。
type MessageInput struct {
	ParticipantID string `validate:"required,uuid"`
	Content       string `validate:"max=2000"`
}

// フィールド名からフォームのキーへの対応。
var fieldKeys = map[string]string{
	"Email":       "email",
	"Password":    "password",
	"Role":        "role",
	"CompanyName": "company_name",
	"Name":        "name",
	"Description": "description",
	"Price":       "price",
	"Category":    "category",
	"MinOrderQty": "min_order_qty",
	"HasImage":    "image",

	"ParticipantID": "participant_id",
	"Content":       "content",
}

// Login はログインフォームを検証する。
func Login(in LoginInput) error {
	return check(in)
}

// Signup はサインアップフォームを検証する。
// サプライヤーは会社名が必須、バイヤーは任意。空白のみの会社名は未入力として扱う。
func Signup(in SignupInput) error {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	return check(in)
}

// Profile はプロフィール補完フォームを検証する。
func Profile(in ProfileInput) error {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	return check(in)
}

// CompanyName は会社名設定フォームを検証する。
func CompanyName(in CompanyNameInput) error {
	return check(in)
}

// Product は商品登録フォームを検証する。
func Product(in ProductInput) error {
	return check(in)
}

// Message はメッセージ送信の入力を検証する。
func Message(in MessageInput) error {
	return check(in)
}

// check は構造体を検証し、失敗したフィールドをmodel.ValidationErrorにまとめる。
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		key, ok := fieldKeys[fe.Field()]
		if !ok {
			key = strings.ToLower(fe.Field())
		}
		if _, exists := fields[key]; exists {
			continue
		}
		fields[key] = message(fe)
	}
	return &model.ValidationError{Fields: fields}
}

// message は検証失敗に対応する表示用メッセージを返す。
func message(fe validator.FieldError) string {
	switch fe.Field() {
	case "Email":
		if fe.Tag() == "required" {
			return "メールアドレスを入力してください。"
		}
		return "有効なメールアドレスを入力してください。"
	case "Password":
		if fe.Tag() == "min" {
			return "パスワードは6文字以上で入力してください。"
		}
		return "パスワードを入力してください。"
	case "Role":
		return "バイヤーまたはサプライヤーを選択してください。"
	case "CompanyName":
		return "会社名を入力してください。"
	case "Price":
		return "価格は0より大きい値を入力してください。"
	case "MinOrderQty":
		return "最小発注数量は0より大きい値を入力してください。"
	case "Category":
		return "カテゴリを選択してください。"
	case "HasImage":
		return "商品画像を指定してください。"
	case "ParticipantID":
		return "送信先が正しくありません。"
	case "Content":
		return "メッセージは2000文字以内で入力してください。"
	default:
		return "入力内容を確認してください。"
	}
}
