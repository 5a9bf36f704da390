package chunker

import (
	"fmt"
	"strings"
	"time"

	"vitae/internal/tokens"
)

// SourceRecord is the canonical, already-normalized shape of a career
// document. Shape normalization happens once at the ingestion boundary;
// everything downstream works with this type.
type SourceRecord struct {
	ID           string
	Type         string // job, project, education, certification, bio
	Title        string
	Organization string
	Location     string
	StartDate    *time.Time
	EndDate      *time.Time // nil = current
	Summary      string
	Achievements []string
	Skills       []string
	Tags         []string
}

type DraftKind string

const (
	KindOverview        DraftKind = "overview"
	KindAchievements    DraftKind = "achievements"
	KindAchievementsExt DraftKind = "achievements_additional"
	KindSkills          DraftKind = "skills"
)

// Draft is a chunk candidate before embedding. Header and Body are kept
// separate: the content hash covers only the trimmed body, while the
// embedded/stored text is header plus body so the chunk stays
// self-contained out of context.
type Draft struct {
	SourceID   string
	Kind       DraftKind
	Title      string
	Header     string
	Body       string
	Skills     []string
	Tags       []string
	DateStart  *time.Time
	DateEnd    *time.Time
	TokenCount int
	Truncated  bool
	Undersized bool
}

// Content is the full self-contained text a chunk is embedded and
// stored with.
func (d Draft) Content() string {
	return d.Header + "\n\n" + d.Body
}

type Options struct {
	// AchievementSplitThreshold is the bullet count above which the
	// achievements are emitted as two chunks instead of one.
	AchievementSplitThreshold int
}

type Chunker struct {
	splitter *tokens.Splitter
	counter  *tokens.Counter
	opts     Options
}

func New(counter *tokens.Counter, splitter *tokens.Splitter, opts Options) *Chunker {
	if opts.AchievementSplitThreshold <= 0 {
		opts.AchievementSplitThreshold = 6
	}
	return &Chunker{splitter: splitter, counter: counter, opts: opts}
}

// Chunk converts a source record into 3-5 semantically distinct drafts:
// one overview, one or two achievement chunks, one skills chunk, in
// that deterministic order. Undersized drafts are enhanced with
// low-risk filler up to the minimum, then adjacent undersized drafts
// are consolidated.
func (c *Chunker) Chunk(src SourceRecord) []Draft {
	header := headerLine(src)
	var drafts []Draft

	if d, ok := c.overviewDraft(src, header); ok {
		drafts = append(drafts, d)
	}
	drafts = append(drafts, c.achievementDrafts(src, header)...)
	if d, ok := c.skillsDraft(src, header); ok {
		drafts = append(drafts, d)
	}

	for i := range drafts {
		c.enhance(&drafts[i], src)
		c.capAndMeasure(&drafts[i])
	}

	drafts = c.consolidate(drafts)

	for i := range drafts {
		if drafts[i].TokenCount < c.splitter.Budget().Min/2 {
			drafts[i].Undersized = true
		}
	}
	return drafts
}

func (c *Chunker) overviewDraft(src SourceRecord, header string) (Draft, bool) {
	var b strings.Builder

	role := src.Title
	if src.Organization != "" {
		role += " at " + src.Organization
	}
	if src.Location != "" {
		role += ", based in " + src.Location
	}
	fmt.Fprintf(&b, "Role: %s. Period: %s.", role, dateRange(src.StartDate, src.EndDate))

	if src.Summary != "" {
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(src.Summary))
	}
	if len(src.Tags) > 0 {
		fmt.Fprintf(&b, " Industry context: %s.", strings.Join(src.Tags, ", "))
	}

	body := strings.TrimSpace(b.String())
	if body == "" {
		return Draft{}, false
	}
	return Draft{
		SourceID:  src.ID,
		Kind:      KindOverview,
		Title:     src.Title + " — overview",
		Header:    header,
		Body:      body,
		Skills:    src.Skills,
		Tags:      src.Tags,
		DateStart: src.StartDate,
		DateEnd:   src.EndDate,
	}, true
}

func (c *Chunker) achievementDrafts(src SourceRecord, header string) []Draft {
	items := make([]string, 0, len(src.Achievements))
	for _, a := range src.Achievements {
		if s := strings.TrimSpace(a); s != "" {
			items = append(items, s)
		}
	}
	if len(items) == 0 {
		return nil
	}

	build := func(kind DraftKind, title string, bullets []string) Draft {
		var b strings.Builder
		b.WriteString("Key achievements:\n")
		for _, it := range bullets {
			b.WriteString("- ")
			b.WriteString(it)
			b.WriteString("\n")
		}
		return Draft{
			SourceID:  src.ID,
			Kind:      kind,
			Title:     title,
			Header:    header,
			Body:      strings.TrimSpace(b.String()),
			Skills:    src.Skills,
			Tags:      src.Tags,
			DateStart: src.StartDate,
			DateEnd:   src.EndDate,
		}
	}

	if len(items) <= c.opts.AchievementSplitThreshold {
		return []Draft{build(KindAchievements, src.Title+" — achievements", items)}
	}

	half := (len(items) + 1) / 2
	return []Draft{
		build(KindAchievements, src.Title+" — achievements", items[:half]),
		build(KindAchievementsExt, src.Title+" — additional achievements", items[half:]),
	}
}

func (c *Chunker) skillsDraft(src SourceRecord, header string) (Draft, bool) {
	if len(src.Skills) == 0 && len(src.Tags) == 0 {
		return Draft{}, false
	}
	var b strings.Builder
	if len(src.Skills) > 0 {
		fmt.Fprintf(&b, "Skills applied: %s.", strings.Join(src.Skills, ", "))
	}
	if len(src.Tags) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Focus areas: %s.", strings.Join(src.Tags, ", "))
	}
	return Draft{
		SourceID:  src.ID,
		Kind:      KindSkills,
		Title:     src.Title + " — skills",
		Header:    header,
		Body:      b.String(),
		Skills:    src.Skills,
		Tags:      src.Tags,
		DateStart: src.StartDate,
		DateEnd:   src.EndDate,
	}, true
}

// enhance appends low-risk contextual filler to drafts below the
// minimum, one sentence at a time, stopping as soon as the minimum is
// met. Enhancement never pushes a draft past the target ceiling.
func (c *Chunker) enhance(d *Draft, src SourceRecord) {
	budget := c.splitter.Budget()
	fillers := fillerSentences(src)

	for _, f := range fillers {
		n := c.counter.Count(d.Body)
		if n >= budget.Min {
			return
		}
		if n+c.counter.Count(f) > budget.Target {
			return
		}
		d.Body = d.Body + " " + f
	}
}

func (c *Chunker) capAndMeasure(d *Draft) {
	body, n, truncated := c.splitter.EnforceHardCap(d.Body)
	d.Body = body
	d.TokenCount = n
	d.Truncated = truncated
}

// consolidate merges adjacent undersized drafts when their combined
// size stays within 1.2x the target ceiling, instead of emitting many
// tiny chunks.
func (c *Chunker) consolidate(drafts []Draft) []Draft {
	budget := c.splitter.Budget()
	limit := budget.Target + budget.Target/5

	var out []Draft
	for _, d := range drafts {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.TokenCount < budget.Min && d.TokenCount < budget.Min &&
				prev.TokenCount+d.TokenCount <= limit {
				prev.Body = prev.Body + "\n\n" + d.Body
				prev.Title = prev.Title + " + " + string(d.Kind)
				prev.Skills = mergeUnique(prev.Skills, d.Skills)
				prev.Tags = mergeUnique(prev.Tags, d.Tags)
				prev.TokenCount = c.counter.Count(prev.Body)
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// headerLine builds the stable "Org — Title (dates)" prefix that keeps
// a chunk self-contained when shown out of context.
func headerLine(src SourceRecord) string {
	dates := dateRange(src.StartDate, src.EndDate)
	if src.Organization != "" {
		return fmt.Sprintf("%s — %s (%s)", src.Organization, src.Title, dates)
	}
	return fmt.Sprintf("%s (%s)", src.Title, dates)
}

func dateRange(start, end *time.Time) string {
	if start == nil {
		return "undated"
	}
	from := start.Format("Jan 2006")
	if end == nil {
		return from + " – Present"
	}
	return from + " – " + end.Format("Jan 2006")
}

func fillerSentences(src SourceRecord) []string {
	var fillers []string

	if src.StartDate != nil {
		end := time.Now()
		if src.EndDate != nil {
			end = *src.EndDate
		}
		months := int(end.Sub(*src.StartDate).Hours() / 24 / 30)
		if months > 0 {
			years := months / 12
			rem := months % 12
			var dur string
			switch {
			case years > 0 && rem > 0:
				dur = fmt.Sprintf("%d years and %d months", years, rem)
			case years > 0:
				dur = fmt.Sprintf("%d years", years)
			default:
				dur = fmt.Sprintf("%d months", rem)
			}
			fillers = append(fillers, fmt.Sprintf("This engagement spanned %s.", dur))
		}
	}

	if src.Organization != "" {
		fillers = append(fillers, fmt.Sprintf(
			"The work at %s contributed directly to team and organizational outcomes throughout this period.",
			src.Organization))
	}
	return fillers
}
