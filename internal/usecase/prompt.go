package usecase

import (
	"fmt"
	"strings"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/hiddentag"
)

const nextReplyInstruction = "Gere a próxima resposta."

type promptContext struct {
	coupon string
	data   domain.CustomerData
}

// buildPromptMessages renders the responder request. An empty history asks for
// the opening outreach script; otherwise the stored turns are replayed.
func buildPromptMessages(p promptContext, history []domain.Turn) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildPersonaPrompt(p)},
		{Role: "system", Content: buildCartContextPrompt(p.data)},
	}

	if len(history) == 0 {
		return append(messages, domain.ChatMessage{Role: "user", Content: firstTurnInstruction()})
	}

	for _, t := range history {
		if m, ok := turnToPromptMessage(t); ok {
			messages = append(messages, m)
		}
	}
	if last := history[len(history)-1]; last.Role != domain.RoleCustomer {
		messages = append(messages, domain.ChatMessage{Role: "user", Content: nextReplyInstruction})
	}
	return messages
}

func buildPersonaPrompt(p promptContext) string {
	return strings.Join([]string{
		"Você é a Carolina, consultora de vendas da AquaFit Brasil.",
		"OBJETIVO: Recuperar Carrinho Abandonado.",
		"PERSONALIDADE: Amiga, breve, natural.",
		"",
		"INSTRUÇÃO OBRIGATÓRIA PARA A PRIMEIRA MENSAGEM:",
		"- Apresente-se como Carolina da AquaFit Brasil.",
		"- Diga que viu que ela quase comprou, mas não finalizou.",
		"- Envie o link para finalizar a compra: " + linkOrPlaceholder(p.data.Link),
		fmt.Sprintf("- Informe que liberou um cupom de desconto válido para o dia de hoje (Cupom: %s).", p.coupon),
		"",
		"REGRAS GERAIS:",
		salesRules(),
	}, "\n")
}

func salesRules() string {
	return strings.Join([]string{
		"1. Pergunte se ficou alguma dúvida sobre o produto.",
		"2. Tente converter a venda oferecendo ajuda.",
		"3. Responda todas as dúvidas dela para que ela finalize a compra.",
		"   - Nunca mencione envio internacional.",
		"   - Nunca fale em dias úteis.",
		"   - Diga que o prazo médio de entrega é de 7 a 14 dias.",
		"   - O código de rastreamento é enviado em até 24h após a compra.",
		"   - As entregas são feitas pelos Correios.",
	}, "\n")
}

func buildCartContextPrompt(d domain.CustomerData) string {
	lines := []string{"Contexto Carrinho:"}
	add := func(label, v string) {
		if v = normalizePromptInput(v); v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add("Tipo", d.Kind)
	add("Cliente", d.Name)
	add("Produtos", d.Products)
	add("Link", d.Link)
	add("Valor", d.Price)
	return strings.Join(lines, "\n")
}

func firstTurnInstruction() string {
	return "Esta é a primeira mensagem. Gere EXATAMENTE conforme a \"INSTRUÇÃO OBRIGATÓRIA PARA A PRIMEIRA MENSAGEM\", usando o link original do carrinho."
}

// turnToPromptMessage maps a stored turn to a chat message, dropping the
// hidden trailer from assistant text.
func turnToPromptMessage(t domain.Turn) (domain.ChatMessage, bool) {
	text := strings.TrimSpace(t.Text)
	switch t.Role {
	case domain.RoleAssistant:
		text = strings.TrimSpace(hiddentag.Strip(text))
		if text == "" {
			return domain.ChatMessage{}, false
		}
		return domain.ChatMessage{Role: "assistant", Content: text}, true
	case domain.RoleCustomer:
		if text == "" {
			return domain.ChatMessage{}, false
		}
		return domain.ChatMessage{Role: "user", Content: text}, true
	default:
		return domain.ChatMessage{}, false
	}
}

func linkOrPlaceholder(link string) string {
	if link = strings.TrimSpace(link); link != "" {
		return link
	}
	return "(link do carrinho)"
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
