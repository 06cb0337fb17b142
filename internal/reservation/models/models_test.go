package models_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/reservation/models"
)

func TestClampTTL(t *testing.T) {
	require.Equal(t, models.MinTTLSeconds, models.ClampTTL(1))
	require.Equal(t, models.MaxTTLSeconds, models.ClampTTL(100000))
	require.Equal(t, 120, models.ClampTTL(120))
}
