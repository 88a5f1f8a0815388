package user

import (
	"testing"

	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"
)

func TestUser_variants(t *testing.T) {
	student := NewStudent("S1", "Ada", "Lovelace", "s1@school.test")
	teacher := NewTeacher("Grace", "Hopper", "grace@school.test")
	var nobody User

	tests := []struct {
		name       string
		usr        User
		wantNumber string
		wantName   string
		student    bool
		teacher    bool
	}{
		{name: "student", usr: student, wantNumber: "S1", wantName: "Ada Lovelace", student: true},
		{name: "teacher", usr: teacher, wantName: "Grace Hopper", teacher: true},
		{name: "role without profile", usr: User{Role: RoleStudent}},
		{name: "zero value", usr: nobody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.usr.IsStudent(); got != tt.student {
				t.Errorf("IsStudent() = %v, want %v", got, tt.student)
			}
			if got := tt.usr.IsTeacher(); got != tt.teacher {
				t.Errorf("IsTeacher() = %v, want %v", got, tt.teacher)
			}
			if got := tt.usr.StudentNumber(); got != tt.wantNumber {
				t.Errorf("StudentNumber() = %q, want %q", got, tt.wantNumber)
			}
			if got := tt.usr.FullName(); got != tt.wantName {
				t.Errorf("FullName() = %q, want %q", got, tt.wantName)
			}
		})
	}
}

func TestUser_ContactEmail(t *testing.T) {
	const domain = "students.invalid"
	inactive := NewStudent("S2", "A", "B", "s2@school.test")
	inactive.SetActive(false)

	tests := []struct {
		name   string
		usr    User
		want   string
		wantOk bool
	}{
		{name: "real address", usr: NewStudent("S1", "A", "B", "s1@school.test"), want: "s1@school.test", wantOk: true},
		{name: "placeholder", usr: NewStudent("S1", "A", "B", PlaceholderEmail("S1", domain))},
		{name: "inactive", usr: inactive},
		{name: "no address", usr: NewStudent("S1", "A", "B", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.usr.ContactEmail(domain)
			if got != tt.want || ok != tt.wantOk {
				t.Errorf("ContactEmail() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOk)
			}
		})
	}
}

func TestUser_DeviceToken(t *testing.T) {
	usr := NewStudent("S1", "A", "B", "s1@school.test")
	if _, ok := usr.DeviceToken(); ok {
		t.Error("DeviceToken() of a user without token should not be ok")
	}

	usr.PushToken = null.StringFrom("tok")
	if tok, ok := usr.DeviceToken(); !ok || tok != "tok" {
		t.Errorf("DeviceToken() = (%q, %v), want (tok, true)", tok, ok)
	}

	usr.SetActive(false)
	if _, ok := usr.DeviceToken(); ok {
		t.Error("DeviceToken() of an inactive user should not be ok")
	}
}

func TestUser_passwords(t *testing.T) {
	usr := NewTeacher("Grace", "Hopper", "grace@school.test")
	if err := usr.SetPassword("pwd"); err != nil {
		t.Fatalf("SetPassword() failed: %v", err)
	}
	if err := usr.CheckPassword("pwd"); err != nil {
		t.Errorf("CheckPassword() error = %v", err)
	}
	if err := usr.CheckPassword("lol"); err != bcrypt.ErrMismatchedHashAndPassword {
		t.Errorf("CheckPassword() error = %v, want %v", err, bcrypt.ErrMismatchedHashAndPassword)
	}

	prev := usr.PasswordHash
	if err := usr.SetTemporaryPassword(); err != nil {
		t.Fatalf("SetTemporaryPassword() failed: %v", err)
	}
	if string(prev) == string(usr.PasswordHash) {
		t.Error("SetTemporaryPassword() did not change the hash")
	}
	if cost, _ := bcrypt.Cost(usr.PasswordHash); cost != bcrypt.MinCost {
		t.Errorf("SetTemporaryPassword() cost = %d, want %d", cost, bcrypt.MinCost)
	}
}

func TestPlaceholderEmail(t *testing.T) {
	tests := []struct {
		number string
		want   string
	}{
		{"S1", "s1@students.invalid"},
		{" 2024/017 ", "2024-017@students.invalid"},
		{"Jean.Mbala_3", "jean.mbala_3@students.invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			if got := PlaceholderEmail(tt.number, "students.invalid"); got != tt.want {
				t.Errorf("PlaceholderEmail() = %q, want %q", got, tt.want)
			}
		})
	}
}
