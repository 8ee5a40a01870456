package prompts

import (
	"fmt"
	"strings"
)

// DefaultSystem is the persona given to the model when no override is configured.
const DefaultSystem = "Você é um agente SDR (Sales Development Representative) especialista em prospecção de clientes.\n" +
	"Sua tarefa é engajar o cliente de forma útil, respondendo suas perguntas e direcionando a conversa para a apresentação de produtos/serviços, com base no contexto fornecido.\n" +
	"Seja conciso, profissional e persuasivo. Se a pergunta do cliente não estiver diretamente relacionada ao contexto, tente guiá-lo de volta para o assunto principal ou para uma oportunidade de vendas."

// User-facing notices sent as plain text frames.
const (
	NoticeNotHeard      = "Não consegui ouvir você. Pode falar novamente?"
	NoticeNotUnderstood = "Não entendi o que você disse. Pode repetir?"
	NoticeApology       = "Desculpe, tive um problema ao processar seu áudio. Por favor, tente novamente."
)

// ForSession resolves the final system prompt for a session.
func ForSession(systemPrompt string) string {
	if systemPrompt != "" {
		return systemPrompt
	}
	return DefaultSystem
}

// WithContext folds retrieved knowledge base context under the system prompt.
func WithContext(system, context string) string {
	if strings.TrimSpace(context) == "" {
		return system
	}
	return system + "\n\nContexto da Empresa/Produtos:\n" + context
}

// Prefixes of the echo and reply text frames.
const (
	UserPrefix  = "Você: "
	AgentPrefix = "Agente: "
)

// UserEcho formats the acknowledgment of a transcribed utterance.
func UserEcho(identity, transcript string) string {
	return fmt.Sprintf("%s%s: %s", UserPrefix, identity, transcript)
}

// AgentReply formats the assistant's text reply.
func AgentReply(reply string) string {
	return AgentPrefix + reply
}
