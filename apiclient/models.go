package apiclient

import (
	"bytes"
	"encoding/json"
)

// ID is a backend identifier. The backend emits numeric ids on some endpoints
// and string ids on others; both decode into the same value.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// User is the profile record the backend returns for the signed-in user.
type User struct {
	ID       ID     `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
	Avatar   string `json:"avatar,omitempty"`

	Phone       string  `json:"phone,omitempty"`
	DateOfBirth string  `json:"dateOfBirth,omitempty"`
	Gender      string  `json:"gender,omitempty"`
	HeightCm    float64 `json:"heightCm,omitempty"`
	WeightKg    float64 `json:"weightKg,omitempty"`
	Bio         string  `json:"bio,omitempty"`

	DailyCalorieGoal int `json:"dailyCalorieGoal,omitempty"`
	ProteinGoal      int `json:"proteinGoal,omitempty"`
	CarbsGoal        int `json:"carbsGoal,omitempty"`
	FatsGoal         int `json:"fatsGoal,omitempty"`
	WaterGoal        int `json:"waterGoal,omitempty"`
}

// DisplayName returns the best human-readable name for u.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

// Goal defaults applied when the profile leaves them unset.
const (
	DefaultDailyCalorieGoal = 2000
	DefaultProteinGoal      = 150
	DefaultCarbsGoal        = 200
	DefaultFatsGoal         = 65
	DefaultWaterGoal        = 8
)

// WithGoalDefaults returns a copy of u with unset goals filled in.
func (u User) WithGoalDefaults() User {
	if u.DailyCalorieGoal == 0 {
		u.DailyCalorieGoal = DefaultDailyCalorieGoal
	}
	if u.ProteinGoal == 0 {
		u.ProteinGoal = DefaultProteinGoal
	}
	if u.CarbsGoal == 0 {
		u.CarbsGoal = DefaultCarbsGoal
	}
	if u.FatsGoal == 0 {
		u.FatsGoal = DefaultFatsGoal
	}
	if u.WaterGoal == 0 {
		u.WaterGoal = DefaultWaterGoal
	}
	return u
}

// AuthResponse is returned by login and signup.
type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	User         *User  `json:"user"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"fullName"`
	AgreeToTerms bool   `json:"agreeToTerms"`
}

// String renders the id for display.
func (id ID) String() string { return string(id) }

