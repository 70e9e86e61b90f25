package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultClassifier(t *testing.T) {
	c := NewDefaultClassifier()
	ctx := context.Background()

	tests := []struct {
		text string
		want Intent
	}{
		{"Sí, confirmo mi presencia", Confirmed},
		{"SIM", Confirmed},
		{"ok!", Confirmed},
		{"  Confirmado   ", Confirmed},
		{"necesito cambiar la hora", Reschedule},
		{"¿Podemos reagendar para otro día?", Reschedule},
		{"no puedo ir mañana", Cancelled},
		{"Quero cancelar a consulta", Cancelled},
		{"Não vou poder ir", Cancelled},
		{"Não vou conseguir ir amanhã", Cancelled},
		{"hola, ¿cuánto cuesta una limpieza?", Unknown},
		{"", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := c.Classify(ctx, tt.text)
			assert.Equal(t, tt.want, got.Intent)
		})
	}
}

func TestConfidenceOrdering(t *testing.T) {
	c := NewDefaultClassifier()
	ctx := context.Background()

	confirmed := c.Classify(ctx, "Sí, confirmo mi presencia")
	cancelled := c.Classify(ctx, "no puedo ir")
	reschedule := c.Classify(ctx, "necesito cambiar la hora")
	unknown := c.Classify(ctx, "gracias")

	assert.GreaterOrEqual(t, confirmed.Confidence, 0.9)
	assert.Greater(t, confirmed.Confidence, cancelled.Confidence)
	assert.Greater(t, cancelled.Confidence, reschedule.Confidence)
	assert.Zero(t, unknown.Confidence)
}

func TestExactKeywordsDoNotMatchInsideSentences(t *testing.T) {
	c := NewDefaultClassifier()
	// "si" is exact-only, so it must not confirm a longer message
	got := c.Classify(context.Background(), "si no es molestia, necesito otra hora")
	assert.Equal(t, Reschedule, got.Intent)
}

func TestPhrasesRespectWordBoundaries(t *testing.T) {
	c := NewKeywordClassifier([]Rule{
		{Intent: Cancelled, Confidence: 0.9, Keywords: phrases("no voy")},
	})
	assert.Equal(t, Unknown, c.Classify(context.Background(), "no voyage").Intent)
	assert.Equal(t, Cancelled, c.Classify(context.Background(), "No voy.").Intent)
}

func TestNegatedPhrasesKeepTheirMeaning(t *testing.T) {
	c := NewDefaultClassifier()
	ctx := context.Background()

	tests := []struct {
		text string
		want Intent
	}{
		{"Sim, não vou faltar", Confirmed},
		{"Não vou faltar, pode deixar", Confirmed},
		{"No puedo confirmar, necesito cambiar la hora", Reschedule},
		{"no puedo confirmar todavía", Unknown},
		{"no confirmo, necesito otra fecha", Reschedule},
		{"Não confirmado", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(ctx, tt.text).Intent)
		})
	}
}

func TestFirstRuleWins(t *testing.T) {
	c := NewDefaultClassifier()
	got := c.Classify(context.Background(), "confirmo, pero quizás cambiar la hora")
	assert.Equal(t, Confirmed, got.Intent)
	assert.Equal(t, "confirmo", got.Matched)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "si confirmo mi presencia", Normalize("  Sí,   CONFIRMO mi presencia!! "))
	assert.Equal(t, "nao vou", Normalize("Não\tvou"))
	assert.Equal(t, "", Normalize("?!"))
}
