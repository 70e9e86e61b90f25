package intent

func phrases(words ...string) []Keyword {
	out := make([]Keyword, 0, len(words))
	for _, w := range words {
		out = append(out, Keyword{Kind: MatchPhrase, Text: w})
	}
	return out
}

func exact(words ...string) []Keyword {
	out := make([]Keyword, 0, len(words))
	for _, w := range words {
		out = append(out, Keyword{Kind: MatchExact, Text: w})
	}
	return out
}

// DefaultRules returns the built-in rule list in priority order.
func DefaultRules() []Rule {
	confirm := append(phrases(
		"confirmo", "confirmado", "confirmada",
		"confirmo mi presencia", "confirmo presenca", "estare ahi", "alli estare",
		"ahi estare", "estarei la", "ali estarei", "de acuerdo", "com certeza",
		"claro que si", "nos vemos", "nao vou faltar", "no voy a faltar", "no faltare",
	), exact(
		"si", "sim", "ok", "okay", "dale", "vale", "perfecto", "perfeito",
		"si gracias", "sim obrigado", "sim obrigada", "claro", "yes",
	)...)

	cancel := phrases(
		"cancelar", "cancelo", "cancela", "cancelado", "cancelada", "cancelamento",
		"no puedo ir", "no podre ir", "no voy a ir", "no podre asistir",
		"no voy a poder", "no asistire", "nao posso ir", "nao vou poder",
		"nao vou conseguir ir", "nao vou comparecer", "nao poderei ir",
		"desmarcar", "anular la cita",
	)

	reschedule := phrases(
		"cambiar", "reagendar", "reprogramar", "remarcar", "reagendamento",
		"otro dia", "otra hora", "otro horario", "otra fecha", "mover la cita",
		"outro dia", "outro horario", "mudar o horario", "posponer", "adiar",
		"mas tarde", "mas temprano",
	)

	return []Rule{
		{Intent: Confirmed, Confidence: 0.95, Keywords: confirm, SkipNegated: true},
		{Intent: Cancelled, Confidence: 0.90, Keywords: cancel},
		{Intent: Reschedule, Confidence: 0.80, Keywords: reschedule},
	}
}
