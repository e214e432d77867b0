package guidance

import (
	"fmt"
	"net/url"
	"strings"

	"gwi.com/wellness-chat/internal/store"
)

const systemInstruction = `
You are an advanced Mental Wellness AI. Your goal is to provide soothing, practical guidance.

IMAGE GENERATION LOGIC:
- You must generate a 'visualizationPrompt' for a high-quality 3D render.
- SUBJECT: A cute, friendly, stylized 3D character. NEVER use realistic humans.
- COMPOSITION: Simple, clear, and high-contrast. The character should be clearly performing ONE wellness activity (e.g., sipping tea, stretching, breathing deeply, organizing a single item).
- visualizationTitle: A very short (1-2 words), uppercase title like "STEP OUTSIDE", "5-MINUTE RULE", or "STAY HYDRATED".
- visualizationPrompt: Describe a high-quality 3D render of that character and activity.

CLASSIFICATION:
- condition must be one of: "Depression-like low mood", "Unhappy / sadness", "Anger / frustration", "Stress / pressure", "Anxiety-like restlessness", "Balanced / Stable".
- confidence must be one of: "High", "Medium", "Low".
- If the user mentions self-harm or crisis, fill safetyMessage with a short pointer to local emergency services.

QUALITY STANDARDS:
- Tone: Match the user's selected preference (Calm, Direct, or Motivational).
- Format: Use "**Bold Title**: Description" for list items.
- youtubeResource: give a descriptive video title; the url field may be left empty.
- aiCommentary is the conversational reply shown to the user.
- Output MUST be valid JSON with the fields: condition, confidence, explanation, immediateActionsTitle,
  immediateActions, smallComfortsTitle, smallComforts, stepByStep, youtubeResource {title, url, reason},
  safetyMessage, aiCommentary, gentleReminder, visualizationPrompt, visualizationTitle.
`

const imageStyleSuffix = ". Style: Cinematic 3D render, cute stylized character, volumetric lighting, soft shadows, " +
	"extremely detailed, vibrant yet soothing colors, NO TEXT, NO REAL PEOPLE. High quality art."

const youtubeSearchURL = "https://www.youtube.com/results?search_query="

// Voice returns the fixed instruction variant for a tone preset.
func Voice(tone store.Tone) string {
	switch tone {
	case store.ToneDirectPractical:
		return "VOICE: Professional, concise. Focus on biological and cognitive maintenance."
	case store.ToneMotivational:
		return "VOICE: High-energy, empowering. Focus on small wins and momentum."
	default:
		return "VOICE: Soft, maternal, reassuring. Focus on gentle sensory resets."
	}
}

func buildUserPrompt(req Request) string {
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = "General"
	}
	mode := "Holistic"
	if req.StepMode {
		mode = "Step-by-Step"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "User Input: %q\n", req.Feeling)
	fmt.Fprintf(&sb, "Role: %q\n", role)
	fmt.Fprintf(&sb, "Mode: %s\n", mode)
	if req.StepMode {
		sb.WriteString("Include a stepByStep protocol of short ordered steps.\n")
	}
	if req.Image != nil {
		sb.WriteString("The user attached an image; take what it shows into account.\n")
	}
	sb.WriteString("\n*** TONE INSTRUCTIONS ***\n")
	sb.WriteString(Voice(req.Tone))
	sb.WriteString("\n\nGenerate a JSON response following the system instructions. Focus on ONE main visualizable concept for the image.")
	return sb.String()
}

func imagePrompt(resp *store.WellnessResponse) string {
	return strings.TrimRight(strings.TrimSpace(resp.VisualizationPrompt), ".") + imageStyleSuffix
}

// VideoSearchURL builds a provider search URL for a video title. Search URLs
// always resolve, unlike guessed video identifiers.
func VideoSearchURL(title string) string {
	return youtubeSearchURL + url.QueryEscape(strings.TrimSpace(title))
}

// recentHistory returns at most limit trailing messages.
func recentHistory(history []store.ChatMessage, limit int) []store.ChatMessage {
	if limit <= 0 {
		return nil
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
