package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateApiKeyRequestValidation(t *testing.T) {
	valid := GenerateApiKeyRequest{
		DeviceID:           "dev-1",
		Description:        "Front gate key",
		AllowedIpAddresses: []string{"10.0.0.0/24", "192.168.1.50", "*", "2001:db8::1"},
		RateLimitPerMinute: 30,
	}
	assert.NoError(t, valid.Validate())

	missingDevice := valid
	missingDevice.DeviceID = ""
	assert.Error(t, missingDevice.Validate())

	badEntry := valid
	badEntry.AllowedIpAddresses = []string{"10.0.0.0/24", "not-an-ip"}
	err := badEntry.Validate()
	require.Error(t, err)

	formatted := FormatValidationErrors(err)
	require.Len(t, formatted, 1)
	assert.Contains(t, formatted[0].Message, "IP address, CIDR range, or *")

	badLimit := valid
	badLimit.RateLimitPerMinute = 20000
	assert.Error(t, badLimit.Validate())
}

func TestBlacklistRequestValidation(t *testing.T) {
	valid := BlacklistRequest{
		IpAddress:       "203.0.113.9",
		DurationMinutes: 60,
		Reason:          "Repeated credential stuffing",
	}
	assert.NoError(t, valid.Validate())

	badIP := valid
	badIP.IpAddress = "not-an-ip"
	assert.Error(t, badIP.Validate())

	badDuration := valid
	badDuration.DurationMinutes = 0
	assert.Error(t, badDuration.Validate())
}
