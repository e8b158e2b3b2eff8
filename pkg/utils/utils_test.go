package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUntil(t *testing.T) {
	cases := []struct {
		d, unit time.Duration
		want    string
	}{
		{2 * time.Hour, time.Minute, "2h"},
		{90 * time.Minute, time.Minute, "1h30m"},
		{90*time.Minute + 59*time.Second, time.Minute, "1h30m"},
		{6*time.Second + 400*time.Millisecond, time.Second, "6s"},
		{time.Hour + 5*time.Second, time.Second, "1h5s"},
		{30 * time.Second, time.Minute, "0m"},
		{0, time.Second, "0s"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Until(c.d, c.unit), "%s at %s", c.d, c.unit)
	}
}

func TestHTTP500Debug(t *testing.T) {
	prev := IsDevelopment
	defer func() { IsDevelopment = prev }()

	IsDevelopment = false
	assert.Equal(t, "Internal Server Error", *HTTP500Debug("db is down"))
	IsDevelopment = true
	assert.Equal(t, "db is down", *HTTP500Debug("db is down"))
}
