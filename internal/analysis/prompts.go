package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/dishdex/internal/locale"
)

const dishPromptPt = `Você é um sommelier e especialista em harmonização de alimentos extremamente criativo e conhecedor da cultura brasileira.

Analise esta imagem de um prato de comida e retorne APENAS um JSON válido em português com a seguinte estrutura:

{
  "dish_name": "Feijoada Completa",
  "description": "Feijoada tradicional brasileira com feijão preto, carnes variadas e acompanhamentos",
  "dish_type": "Brasileira",
  "cultural_context": "Prato tradicional brasileiro, geralmente servido aos sábados em família",
  "pairing_suggestions": [
    {
      "type": "cocktail",
      "name": "Caipirinha de Limão",
      "description": "A acidez do limão corta a gordura das carnes e realça os sabores",
      "is_easter_egg": true
    }
  ]
}

Todos os campos de texto devem estar em português brasileiro.

Sugestões culturais (marque com "is_easter_egg": true):
- arroz e feijão: "Guaraná Antarctica gelado"
- feijoada: "Caipirinha de limão" e "Laranja fatiada"
- churrasco: "Cerveja bem gelada"
- pão de queijo: "Café preto coado" ou "Suco de laranja natural"
- coxinha: "Caldo de cana" ou "Refrigerante de guaraná"
- pastel: "Caldo de cana com limão"
- açaí: "Complementos como banana, granola e mel"
- brigadeiro ou doce brasileiro: "Café espresso"

Seja criativo, use linguagem acessível e traga sugestões que vão de opções sofisticadas a nostálgicas.`

const dishPromptEn = `You are a creative sommelier and food pairing expert.

Analyze this photo of a dish and return ONLY valid JSON with this structure:

{
  "dish_name": "Full Feijoada",
  "description": "Traditional Brazilian black bean stew with assorted meats and sides",
  "dish_type": "Brazilian",
  "cultural_context": "A traditional Brazilian dish, usually served on Saturdays with family",
  "pairing_suggestions": [
    {
      "type": "cocktail",
      "name": "Lime Caipirinha",
      "description": "The lime's acidity cuts through the richness of the meats",
      "is_easter_egg": true
    }
  ]
}

Mark culturally nostalgic suggestions with "is_easter_egg": true.
Be creative, keep the language friendly, and range from sophisticated to nostalgic options.`

const philosophicalPt = `

MODO FILOSÓFICO ATIVADO: Adicione reflexões profundas sobre a relação entre comida, memória e identidade cultural.`

const philosophicalEn = `

PHILOSOPHICAL MODE: Add deep reflections on the relationship between food, memory and cultural identity.`

const profilePromptPt = `Você é um crítico gastronômico criativo e bem-humorado que analisa perfis de pessoas pelo que elas comem.

Crie UMA ÚNICA FRASE curta (máximo %d palavras) e criativa que descreva o estilo gastronômico desta pessoa.

Dados do perfil:
- Total de pratos: %d
- Tipos de comida: %s
- Pratos favoritos: %s
- Pratos recentes: %s

Se houver muita comida brasileira, enfatize isso. Se houver variedade internacional, mencione o lado explorador.
Retorne APENAS a frase, sem aspas e sem explicações.`

const profilePromptEn = `You are a witty food critic who sketches people by what they eat.

Write ONE short, creative sentence (at most %d words) describing this person's eating style.

Profile data:
- Total dishes: %d
- Dish types: %s
- Favorite dishes: %s
- Recent dishes: %s

Return ONLY the sentence, without quotes or explanations.`

// MaxProfileWords bounds the length of a generated eating profile.
const MaxProfileWords = 15

func dishPrompt(msgs locale.Messages, philosophical bool) string {
	body, addon := dishPromptPt, philosophicalPt
	if msgs.Tag == locale.En {
		body, addon = dishPromptEn, philosophicalEn
	}
	p := msgs.Instruction + "\n\n" + body
	if philosophical {
		p += addon
	}
	return p
}

func profilePrompt(msgs locale.Messages, s ProfileStats) string {
	tmpl := profilePromptPt
	if msgs.Tag == locale.En {
		tmpl = profilePromptEn
	}
	types, _ := json.Marshal(s.DishTypes)
	return msgs.Instruction + "\n\n" + fmt.Sprintf(tmpl,
		MaxProfileWords, s.TotalDishes, types, joinRefs(s.Favorites), joinRefs(s.Recent))
}

func joinRefs(refs []DishRef) string {
	if len(refs) == 0 {
		return "-"
	}
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = fmt.Sprintf("%s (%s)", r.Name, r.DishType)
	}
	return strings.Join(parts, ", ")
}
