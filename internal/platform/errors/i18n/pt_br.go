package i18n

var ptBRMessages = map[Code]string{
	"UNKNOWN":                  "Algo deu errado.",
	"INVALID_ARGUMENT":         "A requisição é inválida.",
	"RETRO_NAME_EMPTY":         "O nome da retro é obrigatório.",
	"RETRO_CREATOR_EMPTY":      "O criador da retro é obrigatório.",
	"RETRO_LANE_TITLE_INVALID": "Os títulos das colunas devem ser únicos e não vazios.",
	"USER_ID_EMPTY":            "O id do usuário é obrigatório.",
	"CARD_TEXT_EMPTY":          "O texto do cartão é obrigatório.",
	"CARD_TEXT_TOO_LONG":       "O texto do cartão deve ter no máximo {{.MaxRunes}} caracteres.",
	"PHASE_INVALID":            "Etapa da retro desconhecida.",
	"RETRO_NOT_FOUND":          "Retro não encontrada.",
	"LANE_NOT_FOUND":           "Coluna não encontrada.",
	"CARD_NOT_FOUND":           "Cartão não encontrado.",
	"UNAUTHENTICATED":          "Autenticação necessária.",
	"CARD_NOT_OWNED":           "Somente o autor pode editar este cartão.",
	"PHASE_CHANGE_FORBIDDEN":   "Somente o criador da retro pode mudar a etapa.",
	"PHASE_TRANSITION_INVALID": "A retro só pode avançar ou voltar uma etapa por vez.",
	"VOTING_CLOSED":            "Votos só podem ser dados na etapa de Votação.",
	"SESSION_CLOSED":           "Esta retro não está mais disponível.",
	"COMMAND_TIMEOUT":          "A retro está ocupada. Recarregue e tente novamente.",
}
