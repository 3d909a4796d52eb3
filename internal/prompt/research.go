package prompt

func BuildNameCheckPrompt(rawName string) (string, error) {
	return DefaultPromptBuilder().Render(TemplateNameCheck, NameCheckData{RawName: rawName})
}

func BuildVideoAnalysisPrompt(data VideoAnalysisData) (string, error) {
	return DefaultPromptBuilder().Render(TemplateVideoAnalysis, data)
}

func BuildCorpusSynthesisPrompt(data CorpusSynthesisData) (string, error) {
	return DefaultPromptBuilder().Render(TemplateCorpusSynthesis, data)
}

func BuildMetadataAnalysisPrompt(data MetadataAnalysisData) (string, error) {
	return DefaultPromptBuilder().Render(TemplateMetadataAnalysis, data)
}

func BuildWebDossierPrompt(data WebDossierData) (string, error) {
	return DefaultPromptBuilder().Render(TemplateWebDossier, data)
}

func BuildQuestionsPrompt(data QuestionsData) (string, error) {
	return DefaultPromptBuilder().Render(TemplateQuestions, data)
}
