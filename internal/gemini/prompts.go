package gemini

import (
	"fmt"
	"strings"

	"slidegen/internal/generation"
)

var refinementInstructions = map[generation.RefinementFocus]string{
	generation.FocusLighting: "Change the lighting direction, intensity, or quality (e.g., golden hour, dramatic rim light, " +
		"soft overcast, neon cinematic) to alter the mood while keeping the subject identical.",
	generation.FocusCamera: "Change the camera angle, focal length, or perspective (e.g., drone shot, macro close-up, " +
		"wide-angle, low angle hero shot) to present the subject in a new way.",
	generation.FocusComposition: "Re-arrange the composition (e.g., rule of thirds, symmetry, negative space, dynamic " +
		"diagonals) to create a stronger visual impact while keeping the subject consistent.",
	generation.FocusMood: "Alter the emotional atmosphere (e.g., mysterious, energetic, calm, ominous, ethereal) " +
		"through color grading and weather effects.",
	generation.FocusAny: "Create a fresh variation of the same scene. Keep the core subject and style, but subtly " +
		"shift the camera, lighting, and composition for a new look.",
}

func refinePrompt(prompt string, focus generation.RefinementFocus) string {
	instruction, ok := refinementInstructions[focus]
	if !ok {
		instruction = refinementInstructions[generation.FocusAny]
	}
	return fmt.Sprintf(`Act as a Prompt Engineer. Rewrite the following image prompt to satisfy the specific refinement goal.

Original Prompt: %q

Refinement Goal: %s

Return ONLY the new prompt string, no markdown or explanations.`, prompt, instruction)
}

func keywordsPrompt(topic string) string {
	return fmt.Sprintf(`Extract the visual vocabulary of a presentation topic.

PRESENTATION TOPIC: %q

Return JSON:
{
  "keywords": ["key terms of the topic"],
  "visualSubjects": ["concrete things an image about the topic could show"],
  "avoidTerms": ["imagery that would be off-topic"]
}`, topic)
}

func contentContext(label string, content []string) string {
	if len(content) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s:\n", label)
	for _, c := range content {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

func validatePrompt(prompt, topic string, slide slideInput, kw keywords) string {
	return fmt.Sprintf(`You are a strict image prompt validator for a presentation generator.
Evaluate if this image prompt will generate an image that is VISUALLY RELEVANT to the presentation topic.

PRESENTATION TOPIC: %q
TOPIC KEYWORDS: %s
SLIDE TITLE: %q%s

IMAGE PROMPT TO VALIDATE:
%q

Score the prompt 0-100:
1. TOPIC RELEVANCE (40 points): does it depict the topic's subject matter?
2. SPECIFICITY (20 points): does it describe concrete visual elements?
3. NO GENERIC/UNRELATED ITEMS (20 points): does it avoid imagery unrelated to the topic?
4. NO TEXT/BRANDS (20 points): does it avoid text, logos, brand names and watermarks?

Return JSON:
{
  "isValid": boolean (true if score >= 70),
  "score": number (0-100),
  "issues": ["specific problems found"],
  "suggestions": ["how to fix the issues"]
}`, topic, strings.Join(kw.Keywords, ", "), slide.Title, contentContext("SLIDE CONTENT", slide.Content), prompt)
}

func rewritePrompt(prompt, topic, style string, issues []string, slide slideInput) string {
	list := "Prompt not relevant to topic"
	if len(issues) > 0 {
		list = strings.Join(issues, "\n- ")
	}
	return fmt.Sprintf(`You are an expert image prompt engineer. REWRITE an image prompt that failed validation.

PRESENTATION TOPIC: %q
SLIDE TITLE: %q%s

VISUAL STYLE TO MAINTAIN:
%q

ORIGINAL (FAILED) PROMPT:
%q

ISSUES TO FIX:
- %s

REQUIREMENTS:
1. The new prompt MUST describe something VISUALLY RELATED to the topic.
2. Keep the lighting, composition, mood and palette of the visual style.
3. Do not describe text, words, brand names, logos, watermarks or UI with readable content.
4. Be specific about the subject matter.

Return JSON:
{
  "newPrompt": "the complete rewritten image prompt",
  "reasoning": "brief explanation of what changed"
}`, topic, slide.Title, contentContext("SLIDE CONTENT (for context)", slide.Content), style, prompt, list)
}
