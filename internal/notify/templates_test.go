package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appointmentData() map[string]any {
	return map[string]any{
		"appointmentCode": "APT-000001",
		"patientCode":     "P-0001",
		"dentistCode":     "Dr-0007",
		"date":            "Mon 10 Mar 2025",
		"time":            "09:00",
		"reason":          "-",
		"recipientName":   "Ayu",
	}
}

func TestRenderMessageAllTemplates(t *testing.T) {
	data := appointmentData()
	data["queueCode"] = "Q-000001"
	data["position"] = "3"
	data["prefix"] = "Your code is"
	data["code"] = "123456"
	data["expiresInMinutes"] = "5"

	for key := range messageTemplates {
		t.Run(key, func(t *testing.T) {
			subject, body, err := RenderMessage(key, data)
			require.NoError(t, err)
			assert.NotEmpty(t, subject)
			assert.NotEmpty(t, body)
			assert.NotContains(t, body, "<no value>")
		})
	}
}

func TestRenderMessageMissingKey(t *testing.T) {
	_, _, err := RenderMessage(TemplateOTPCode, map[string]any{"prefix": "Code"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code")
}

func TestRenderMessageUnknownTemplate(t *testing.T) {
	_, _, err := RenderMessage("nope", nil)
	assert.Error(t, err)
	assert.False(t, KnownTemplate("nope"))
	assert.True(t, KnownTemplate(TemplateQueueAdded))
}

func TestRenderSlipEscapesInput(t *testing.T) {
	data := appointmentData()
	data["recipientName"] = "<script>x</script>"

	slip, err := RenderSlip(data)
	require.NoError(t, err)
	html := string(slip)
	assert.Contains(t, html, "APT-000001")
	assert.False(t, strings.Contains(html, "<script>"))
}
