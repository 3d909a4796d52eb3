package prompt

type NameCheckData struct {
	RawName string
}

type VideoAnalysisData struct {
	Subject     string
	Title       string
	ChannelName string
	PublishedAt string
}

// CorpusEntry is one piece of evidence tagged by provenance.
type CorpusEntry struct {
	Title       string
	ChannelName string
	Language    string
	Provenance  string
	Text        string
}

type CorpusSynthesisData struct {
	Subject string
	Context string
	Entries []CorpusEntry
}

type MetadataVideo struct {
	Title       string
	ChannelName string
	PublishedAt string
	Description string
}

type MetadataAnalysisData struct {
	Subject string
	Context string
	Videos  []MetadataVideo
}

type WebDossierData struct {
	Subject  string
	Context  string
	Grounded bool
}

type QuestionsData struct {
	InterviewerName       string
	ShowName              string
	Audience              string
	Style                 string
	InterviewerBackground string
	GuestName             string
	GuestContext          string
	Research              string
	Count                 int
}
