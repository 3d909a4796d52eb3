package ai

import (
	"context"
	"sync"
)

type fakeCall struct {
	APIKey string
	Req    Request
}

// fakeProvider replays scripted answers in order; the last one repeats.
type fakeProvider struct {
	name    string
	mu      sync.Mutex
	answers []fakeAnswer
	calls   []fakeCall
}

type fakeAnswer struct {
	result ProviderResult
	err    error
}

func newFakeProvider(name string, answers ...fakeAnswer) *fakeProvider {
	return &fakeProvider{name: name, answers: answers}
}

func ok(text string) fakeAnswer {
	return fakeAnswer{result: ProviderResult{Text: text, Model: "fake-model"}}
}

func fail(err error) fakeAnswer {
	return fakeAnswer{err: err}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, apiKey string, req Request) (ProviderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{APIKey: apiKey, Req: req})
	if len(f.answers) == 0 {
		return ProviderResult{}, nil
	}
	idx := min(len(f.calls)-1, len(f.answers)-1)
	a := f.answers[idx]
	if a.result.Model == "" && req.Model != "" {
		a.result.Model = req.Model
	}
	return a.result, a.err
}

func (f *fakeProvider) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}
