// ABOUTME: Customer-facing message templates, in the store's voice (pt-BR).
// ABOUTME: Pure string assembly; every template lives here so copy edits touch one file.

package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/donafarma/dispatch/internal/config"
	"github.com/donafarma/dispatch/internal/hours"
	"github.com/donafarma/dispatch/internal/pool"
	"github.com/donafarma/dispatch/internal/session"
)

// copywriter assembles every outbound bot message. It carries the store
// identity and the opening schedule so templates stay configuration-driven.
type copywriter struct {
	store    config.StoreConfig
	schedule hours.Schedule
}

func (c copywriter) storeName() string {
	if c.store.Name != "" {
		return c.store.Name
	}
	return "nossa loja"
}

// OutsideHours greets a contact that arrived while the store is closed and
// promises a callback at opening.
func (c copywriter) OutsideHours(now time.Time, profile *session.Profile) string {
	var b strings.Builder
	if profile != nil && profile.Name != "" {
		fmt.Fprintf(&b, "Olá, %s! ", profile.Name)
	} else {
		b.WriteString("Olá! ")
	}
	fmt.Fprintf(&b, "No momento a %s está *fechada*.\n\n", c.storeName())
	b.WriteString("*Nosso horário de funcionamento:*\n")
	for _, line := range c.schedule.Table() {
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n%s.\n", c.schedule.NextOpenDescription(now))
	b.WriteString("Sua mensagem ficou registrada e um atendente falará com você assim que abrirmos. 😊")
	return b.String()
}

// Welcome is the first-contact greeting that opens the registration flow.
func (c copywriter) Welcome() string {
	return fmt.Sprintf(
		"Olá! Bem-vindo(a) à *%s*! 👋\n\nPara começar o seu atendimento, me diga: *qual é o seu nome?*",
		c.storeName(),
	)
}

// InvalidName nudges the customer after a rejected name, showing the attempt count.
func (c copywriter) InvalidName(attempts int) string {
	return fmt.Sprintf(
		"Hmm, não consegui entender. Por favor, digite apenas o seu *nome* (entre 2 e 50 letras).\n\n_Tentativa %d/%d_",
		attempts, session.MaxInputAttempts,
	)
}

// AskLocation asks for the delivery CEP after the name is accepted.
func (c copywriter) AskLocation(name string) string {
	return fmt.Sprintf(
		"Prazer, *%s*! 😊\n\nAgora me informe o seu *CEP* (8 dígitos) para eu verificar se entregamos na sua região.",
		name,
	)
}

// InvalidLocation nudges the customer after a malformed CEP.
func (c copywriter) InvalidLocation(attempts int) string {
	return fmt.Sprintf(
		"Esse CEP não parece válido. Digite os *8 dígitos* do seu CEP, por exemplo: 01310100.\n\n_Tentativa %d/%d_",
		attempts, session.MaxInputAttempts,
	)
}

// Consulting acknowledges the CEP while the lookup runs.
func (c copywriter) Consulting() string {
	return "Um instante, estou consultando o seu endereço... 🔎"
}

// LookupFailed asks for the CEP again after an infrastructure failure.
func (c copywriter) LookupFailed() string {
	return "Não consegui consultar esse CEP agora. Pode conferir os números e enviar de novo, por favor?"
}

// EligibilityResult announces the delivery verdict for the registered address.
func (c copywriter) EligibilityResult(p *session.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pronto, *%s*! Seu cadastro foi concluído. ✅\n\n", p.Name)
	if p.AddressSummary != "" {
		fmt.Fprintf(&b, "📍 %s\n", p.AddressSummary)
	}
	fmt.Fprintf(&b, "📏 Distância da loja: *%.1f km*\n\n", p.DistanceKm)
	if p.WithinRadius {
		fee := c.store.DeliveryFee
		if fee == "" {
			fee = "a combinar"
		}
		fmt.Fprintf(&b, "🛵 Boa notícia: *entregamos no seu endereço!* Taxa de entrega: %s.", fee)
	} else {
		fmt.Fprintf(&b, "😕 Seu endereço fica *fora da nossa área de entrega* (%.0f km). Você ainda pode retirar na loja: %s.",
			c.store.DeliveryRadiusKm, c.store.Address)
	}
	return b.String()
}

// AgentMenu lists the roster for the first-contact choice.
func (c copywriter) AgentMenu(agents []pool.Snapshot) string {
	var b strings.Builder
	b.WriteString("Com quem você prefere falar? Digite o *número* da opção:\n\n")
	for i, a := range agents {
		fmt.Fprintf(&b, "*%d* - %s %s\n", i+1, a.Name, availabilityTag(a.Availability))
	}
	b.WriteString("\nOu escreva sua dúvida que eu direciono para o atendente disponível. 😉")
	return b.String()
}

// ReturningMenu greets a registered customer and offers the full menu,
// including the operating-hours option after the roster.
func (c copywriter) ReturningMenu(p *session.Profile, agents []pool.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Olá de novo, *%s*! 😊 Que bom te ver por aqui.\n\n", p.Name)
	if p.WithinRadius {
		b.WriteString("🛵 Entregamos no seu endereço cadastrado.\n\n")
	} else {
		b.WriteString("🏪 Seu endereço está fora da área de entrega, mas você pode retirar na loja.\n\n")
	}
	b.WriteString("Como posso ajudar? Digite o *número* da opção:\n\n")
	for i, a := range agents {
		fmt.Fprintf(&b, "*%d* - Falar com %s %s\n", i+1, a.Name, availabilityTag(a.Availability))
	}
	fmt.Fprintf(&b, "*%d* - Ver horário de funcionamento\n", len(agents)+1)
	b.WriteString("\nOu escreva sua dúvida diretamente.")
	return b.String()
}

// HoursTable is the reply to the hours menu option.
func (c copywriter) HoursTable(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Horário de funcionamento da %s:*\n\n", c.storeName())
	for _, line := range c.schedule.Table() {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(c.schedule.StatusLine(now))
	b.WriteString("\n\nQuando quiser falar com um atendente, é só mandar uma mensagem. 😊")
	return b.String()
}

// AllBusy tells the customer everyone is occupied and the conversation is queued.
func (c copywriter) AllBusy() string {
	return "No momento todos os nossos atendentes estão *ocupados*. 😔\n\n" +
		"Você entrou na *fila de espera* e será atendido(a) assim que alguém estiver livre. Obrigado pela paciência!"
}

// AgentOffline tells the customer the chosen agent is not available right now.
func (c copywriter) AgentOffline(name string) string {
	return fmt.Sprintf(
		"*%s* não está disponível no momento. 😔\nVou te direcionar para outro atendente, um instante...",
		name,
	)
}

// AgentBusy tells the customer the chosen agent is at capacity.
func (c copywriter) AgentBusy(name string) string {
	return fmt.Sprintf(
		"*%s* está atendendo outros clientes agora. 😔\nVou te direcionar para outro atendente, um instante...",
		name,
	)
}

// Escalating tells a struggling customer a human is taking over the registration.
func (c copywriter) Escalating() string {
	return "Sem problemas! Vou te conectar com um dos nossos atendentes para continuar por lá. 🙋"
}

// Connected announces the agent who took the conversation.
func (c copywriter) Connected(agentName string, p *session.Profile) string {
	var b strings.Builder
	if p != nil && p.Name != "" {
		fmt.Fprintf(&b, "*%s*, você está sendo atendido(a) por *%s*! 🎉\n\n", p.Name, agentName)
	} else {
		fmt.Fprintf(&b, "Você está sendo atendido(a) por *%s*! 🎉\n\n", agentName)
	}
	b.WriteString("Pode mandar sua mensagem que a partir de agora quem responde é nossa equipe.")
	return b.String()
}

// IdleWarning is the inactivity nudge before an automatic close.
func (c copywriter) IdleWarning() string {
	return "Oi! Você ainda está aí? 👀\n\n" +
		"Se não recebermos uma resposta em *1 minuto*, este atendimento será encerrado automaticamente. " +
		"Mas fique tranquilo(a): é só mandar outra mensagem para falar com a gente de novo."
}

// Closed is the final message of a conversation, varied by what ended it.
func (c copywriter) Closed(customerName, reason string) string {
	var b strings.Builder
	if reason == CloseReasonIdleTimeout {
		b.WriteString("Este atendimento foi *encerrado por inatividade*. ⏰\n\n")
	} else {
		b.WriteString("Atendimento *encerrado*. ✅\n\n")
	}
	if customerName != "" {
		fmt.Fprintf(&b, "Obrigado pelo contato, *%s*! ", customerName)
	} else {
		b.WriteString("Obrigado pelo contato! ")
	}
	fmt.Fprintf(&b, "A %s agradece a preferência. Quando precisar, é só chamar. 💙", c.storeName())
	return b.String()
}

// Transferred announces a handover to another agent.
func (c copywriter) Transferred(toName string) string {
	return fmt.Sprintf(
		"Seu atendimento foi *transferido* para *%s*, que vai continuar te ajudando a partir de agora. 🤝",
		toName,
	)
}

// availabilityTag is the status marker shown next to each agent in menus.
func availabilityTag(a pool.Availability) string {
	switch a {
	case pool.Available:
		return "🟢"
	case pool.Busy:
		return "🟡"
	default:
		return "🔴"
	}
}
