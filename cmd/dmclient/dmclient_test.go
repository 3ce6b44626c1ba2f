package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/internal/auth"
	"dm-service/internal/models"
)

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "42", "--secret", "s3cret", "--issuer", "auth-service"})
	require.NoError(t, rootCmd.Execute())

	raw := strings.TrimSpace(out.String())
	id, err := auth.NewJWTValidator("s3cret", "auth-service").ValidateToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	subject, err := tokenSubject(raw)
	require.NoError(t, err)
	assert.Equal(t, 42, subject)
}

func TestTokenSubjectRejectsGarbage(t *testing.T) {
	_, err := tokenSubject("not-a-jwt")
	assert.Error(t, err)
}

func TestParseUserID(t *testing.T) {
	id, err := parseUserID("7")
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	for _, s := range []string{"0", "-3", "seven"} {
		_, err := parseUserID(s)
		assert.Error(t, err, s)
	}
}

func TestPrintMessage(t *testing.T) {
	var out bytes.Buffer
	read := time.Now().Add(-time.Hour)
	printMessage(&out, models.MessageSummary{
		Message:         models.Message{ID: "m1", SenderID: 1, RecipientID: 2, Text: "hello", Created: time.Now().Add(-2 * time.Hour), DateRead: &read},
		SenderFirstName: "Ada",
		SenderLastName:  "Lovelace",
	})

	s := out.String()
	assert.Contains(t, s, "Ada Lovelace (#1) -> #2")
	assert.Contains(t, s, "2 hours ago")
	assert.Contains(t, s, "read 1 hour ago")
	assert.Contains(t, s, "hello")
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "1 message", pluralize(1, "message"))
	assert.Equal(t, "1,200 messages", pluralize(1200, "message"))
}
