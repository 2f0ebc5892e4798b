package patients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockRosterIsReproducible(t *testing.T) {
	a, err := NewMockDirectory().Query(context.Background(), Query{})
	require.NoError(t, err)
	b, err := NewMockDirectory().Query(context.Background(), Query{})
	require.NoError(t, err)

	assert.Len(t, a, 800)
	assert.Equal(t, a, b)
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	d := NewMockDirectory()

	tests := []struct {
		name  string
		q     Query
		check func(t *testing.T, got []Patient)
	}{
		{
			name: "respiratory conditions",
			q:    Query{Conditions: []string{"asthma", "COPD"}},
			check: func(t *testing.T, got []Patient) {
				assert.Len(t, got, 500)
			},
		},
		{
			name: "elderly tags",
			q:    Query{Tags: []string{"elderly_65plus", "immunocompromised"}},
			check: func(t *testing.T, got []Patient) {
				assert.Len(t, got, 300)
			},
		},
		{
			name: "recent visits only",
			q:    Query{Conditions: []string{"asthma"}, LastVisitWithinDays: 30},
			check: func(t *testing.T, got []Patient) {
				require.NotEmpty(t, got)
				for _, p := range got {
					assert.LessOrEqual(t, p.LastVisitDays, 30)
				}
			},
		},
		{
			name: "appointments within a week",
			q:    Query{AppointmentWithinDays: 7},
			check: func(t *testing.T, got []Patient) {
				assert.Len(t, got, 167)
				for _, p := range got {
					assert.NotZero(t, p.AppointmentInDays)
				}
			},
		},
		{
			name: "limit",
			q:    Query{ActiveOnly: true, ConsentSMSOnly: true, Limit: 25},
			check: func(t *testing.T, got []Patient) {
				assert.Len(t, got, 25)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Query(ctx, tt.q)
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestConsentIsHonoured(t *testing.T) {
	d := NewMockDirectoryWith([]Patient{
		{ID: "a", Active: true, ConsentSMS: true},
		{ID: "b", Active: true, ConsentSMS: false},
		{ID: "c", Active: false, ConsentSMS: true},
	})
	got, err := d.Query(context.Background(), Query{ActiveOnly: true, ConsentSMSOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestFeedback(t *testing.T) {
	d := NewMockDirectory()
	f, err := d.Feedback(context.Background(), time.Now(), "msg")
	require.NoError(t, err)
	assert.Zero(t, f)

	d.SetFeedback(Feedback{Complaints: 3, OptOuts: 1})
	f, err = d.Feedback(context.Background(), time.Now(), "msg")
	require.NoError(t, err)
	assert.Equal(t, 3, f.Complaints)
}

func TestQueryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockDirectory().Query(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
}
