package user

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"
)

// Role tags the variant held by a User.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// StudentProfile is the payload of a RoleStudent user.
type StudentProfile struct {
	Number    string `json:"student_number"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// TeacherProfile is the payload of a RoleTeacher user.
type TeacherProfile struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Department string `json:"department"`
}

// User is a tagged union: exactly one of Student or Teacher is set, matching Role.
type User struct {
	ID                 string      `json:"id"`
	Role               Role        `json:"role"`
	Email              string      `json:"email"`
	PasswordHash       []byte      `json:"-"`
	IsActive           bool        `json:"is_active"`
	PushToken          null.String `json:"-"`
	PushTokenUpdatedAt null.Time   `json:"-"`
	LastLogin          null.Time   `json:"last_login"`
	CreatedAt          time.Time   `json:"created_at"` // UTC
	UpdatedAt          time.Time   `json:"updated_at"` // UTC

	Student *StudentProfile `json:"student,omitempty"`
	Teacher *TeacherProfile `json:"teacher,omitempty"`
}

// NewStudent returns an active student identity.
func NewStudent(number, firstName, lastName, email string) User {
	now := time.Now().UTC()
	return User{
		Role:      RoleStudent,
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		Student: &StudentProfile{
			Number:    number,
			FirstName: firstName,
			LastName:  lastName,
		},
	}
}

// NewTeacher returns an active teacher identity.
func NewTeacher(firstName, lastName, email string) User {
	now := time.Now().UTC()
	return User{
		Role:      RoleTeacher,
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		Teacher: &TeacherProfile{
			FirstName: firstName,
			LastName:  lastName,
		},
	}
}

func (u *User) IsStudent() bool { return u.Role == RoleStudent && u.Student != nil }
func (u *User) IsTeacher() bool { return u.Role == RoleTeacher && u.Teacher != nil }

// StudentNumber returns the student number, or "" for non students.
func (u *User) StudentNumber() string {
	if !u.IsStudent() {
		return ""
	}
	return u.Student.Number
}

// FullName returns "First Last" of whichever variant is set.
func (u *User) FullName() string {
	var first, last string
	switch {
	case u.IsStudent():
		first, last = u.Student.FirstName, u.Student.LastName
	case u.IsTeacher():
		first, last = u.Teacher.FirstName, u.Teacher.LastName
	}
	return strings.TrimSpace(first + " " + last)
}

// ContactEmail returns the address notifications may be sent to.
// Placeholder addresses of spreadsheet-created students do not qualify.
func (u *User) ContactEmail(placeholderDomain string) (string, bool) {
	if u.Email == "" || !u.IsActive || u.HasPlaceholderEmail(placeholderDomain) {
		return "", false
	}
	return u.Email, true
}

// HasPlaceholderEmail reports whether the user's email was generated from spreadsheet data.
func (u *User) HasPlaceholderEmail(placeholderDomain string) bool {
	return placeholderDomain != "" && strings.HasSuffix(u.Email, "@"+placeholderDomain)
}

// DeviceToken returns the registered push token of an active user.
func (u *User) DeviceToken() (string, bool) {
	if !u.IsActive || !u.PushToken.Valid || u.PushToken.String == "" {
		return "", false
	}
	return u.PushToken.String, true
}

func (u *User) SetActive(active bool) {
	u.IsActive = active
}

func (u *User) SetPassword(pwd string) error {
	return u.setPassword(pwd, bcrypt.DefaultCost)
}

func (u *User) setPassword(pwd string, cost int) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), cost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

// SetTemporaryPassword sets a random password nobody knows; the student must reset it to log in.
// The secret is never disclosed and is hashed with the minimum bcrypt cost.
func (u *User) SetTemporaryPassword() error {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	return u.setPassword(base64.RawURLEncoding.EncodeToString(buf), bcrypt.MinCost)
}

// PlaceholderEmail builds the address given to a student first seen in spreadsheet data.
func PlaceholderEmail(studentNumber, domain string) string {
	local := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, strings.TrimSpace(studentNumber))
	return local + "@" + domain
}
