package support

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("VPNGW_TEST_ENV", "value")
	if got := GetEnv("VPNGW_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %s, want value", got)
	}

	if got := GetEnv("VPNGW_TEST_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %s, want fallback", got)
	}

	t.Setenv("VPNGW_TEST_ENV_BLANK", "  ")
	if got := GetEnv("VPNGW_TEST_ENV_BLANK", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %q for a blank value, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("VPNGW_TEST_INT", "42")
	if got := GetEnvInt("VPNGW_TEST_INT", 1); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}

	t.Setenv("VPNGW_TEST_INT_BAD", "forty-two")
	if got := GetEnvInt("VPNGW_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("GetEnvInt with invalid value returned %d, want 7", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
	}{
		{value: "90s", want: 90 * time.Second},
		{value: "5m", want: 5 * time.Minute},
		{value: "30", want: 30 * time.Second},
		{value: "soon", want: time.Hour},
		{value: "", want: time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv("VPNGW_TEST_DURATION", tc.value)
			if got := GetEnvDuration("VPNGW_TEST_DURATION", time.Hour); got != tc.want {
				t.Fatalf("GetEnvDuration(%q) = %s, want %s", tc.value, got, tc.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("VPNGW_TEST_BOOL", "true")
	if !GetEnvBool("VPNGW_TEST_BOOL", false) {
		t.Fatal("GetEnvBool returned false for true")
	}
	t.Setenv("VPNGW_TEST_BOOL", "maybe")
	if GetEnvBool("VPNGW_TEST_BOOL", false) {
		t.Fatal("GetEnvBool returned true for an invalid value with false fallback")
	}
}
