package search

// domainSynonyms maps common query terms to corpus-side equivalents.
// Expansion is additive: synonyms are appended to the sparse-search
// text, never substituted into the query the user sees.
var domainSynonyms = map[string][]string{
	// music and culture
	"song":   {"anthem", "hymn", "tune"},
	"music":  {"melody", "composition"},
	"poem":   {"verse", "poetry"},
	"story":  {"tale", "narrative"},
	"film":   {"movie", "picture"},
	"author": {"writer"},

	// government and law
	"law":        {"statute", "act", "legislation"},
	"rule":       {"regulation", "policy"},
	"government": {"administration", "state"},
	"president":  {"leader", "head of state"},
	"king":       {"monarch", "ruler"},
	"queen":      {"monarch"},
	"election":   {"vote", "ballot"},
	"treaty":     {"agreement", "accord"},
	"country":    {"nation", "state"},
	"city":       {"town", "municipality"},

	// conflict and history
	"war":      {"conflict", "battle"},
	"army":     {"military", "forces"},
	"revolt":   {"rebellion", "uprising"},
	"ancient":  {"historical", "antiquity"},
	"founded":  {"established", "created"},
	"invented": {"created", "devised"},

	// science and nature
	"illness": {"disease", "sickness"},
	"doctor":  {"physician"},
	"medicine": {"drug", "treatment"},
	"animal":  {"species", "creature"},
	"plant":   {"flora", "vegetation"},
	"weather": {"climate"},
	"earth":   {"planet", "world"},
	"speed":   {"velocity"},
	"size":    {"dimension", "magnitude"},

	// economy and daily life
	"money":    {"currency", "funds"},
	"cost":     {"price", "expense"},
	"job":      {"occupation", "profession"},
	"company":  {"corporation", "firm"},
	"buy":      {"purchase", "acquire"},
	"sell":     {"trade"},
	"food":     {"cuisine", "diet"},
	"house":    {"home", "dwelling"},
	"car":      {"automobile", "vehicle"},
	"ship":     {"vessel", "boat"},
	"picture":  {"image", "photograph"},
	"big":      {"large", "major"},
	"small":    {"little", "minor"},
	"begin":    {"start", "commence"},
	"end":      {"finish", "conclusion"},
	"famous":   {"renowned", "notable"},
	"old":      {"ancient", "early"},
	"new":      {"modern", "recent"},
}

// SynonymsFor returns additive synonyms for a lowercase term, or nil.
func SynonymsFor(term string) []string {
	return domainSynonyms[term]
}

// DomainVocabulary returns every term in the lexicon, keys and
// synonyms alike. Callers use it to tell corpus-anchored questions
// from ones that only make sense against earlier conversation.
func DomainVocabulary() map[string]bool {
	vocab := make(map[string]bool, 3*len(domainSynonyms))
	for term, syns := range domainSynonyms {
		vocab[term] = true
		for _, s := range syns {
			vocab[s] = true
		}
	}
	return vocab
}
