package policy

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"Oi", IntentGreeting},
		{"OLÁ, tudo bem?", IntentGreeting},
		{"bom dia!", IntentGreeting},
		{"Hi there, what is your pricing?", IntentGreeting},
		{"quanto custa o plano anual?", IntentBudget},
		{"Preciso de um orçamento", IntentBudget},
		{"Qual o status do meu pedido?", IntentStatus},
		{"where is my order", IntentStatus},
		{"quero falar com um atendente", IntentHuman},
		{"can I talk to a human", IntentHuman},
		{"o boleto venceu", IntentUnknown},
		{"depois eu vejo", IntentUnknown},
		{"", IntentUnknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		Classify("quanto custa?")
		if got := Classify("Oi"); got != IntentGreeting {
			t.Fatalf("run %d: Classify(Oi) = %s", i, got)
		}
	}
}
