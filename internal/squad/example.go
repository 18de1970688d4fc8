package squad

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Example is one question with its whitespace-tokenized context.
type Example struct {
	QAID           string
	QuestionText   string
	DocTokens      []string
	OrigAnswerText string
	StartPosition  int // Word index of the answer start, -1 when impossible
	EndPosition    int // Word index of the answer end, -1 when impossible
	IsImpossible   bool
}

type squadFile struct {
	Version string `json:"version"`
	Data    []struct {
		Title      string `json:"title"`
		Paragraphs []struct {
			Context string `json:"context"`
			QAs     []struct {
				ID           string `json:"id"`
				Question     string `json:"question"`
				IsImpossible bool   `json:"is_impossible"`
				Answers      []struct {
					Text        string `json:"text"`
					AnswerStart int    `json:"answer_start"`
				} `json:"answers"`
			} `json:"qas"`
		} `json:"paragraphs"`
	} `json:"data"`
}

func isWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == 0x202F
}

// splitDoc splits text on whitespace and maps every rune to the index of
// the word it belongs to.
func splitDoc(text string) (tokens []string, charToWord []int) {
	prevWhitespace := true
	for _, r := range text {
		if isWhitespace(r) {
			prevWhitespace = true
		} else {
			if prevWhitespace {
				tokens = append(tokens, string(r))
			} else {
				tokens[len(tokens)-1] += string(r)
			}
			prevWhitespace = false
		}
		charToWord = append(charToWord, len(tokens)-1)
	}
	return tokens, charToWord
}

// ReadExamples reads a SQuAD JSON file.
//
// With training set, every answerable question must carry exactly one
// answer, whose word span is recorded. Questions whose answer cannot be
// located in the context are skipped with a warning.
func ReadExamples(path string, training, version2 bool) ([]Example, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read SQuAD file")
	}
	var file squadFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse SQuAD file %s", path)
	}

	var examples []Example
	for _, entry := range file.Data {
		for _, paragraph := range entry.Paragraphs {
			docTokens, charToWord := splitDoc(paragraph.Context)
			for _, qa := range paragraph.QAs {
				ex := Example{
					QAID:          qa.ID,
					QuestionText:  qa.Question,
					DocTokens:     docTokens,
					StartPosition: -1,
					EndPosition:   -1,
				}
				if !training {
					examples = append(examples, ex)
					continue
				}

				if version2 {
					ex.IsImpossible = qa.IsImpossible
				}
				if len(qa.Answers) != 1 && !ex.IsImpossible {
					return nil, errors.Errorf("question %s: for training, each question should have exactly 1 answer", qa.ID)
				}
				if !ex.IsImpossible {
					answer := qa.Answers[0]
					length := len([]rune(answer.Text))
					last := answer.AnswerStart + length - 1
					if answer.AnswerStart < 0 || length == 0 || last >= len(charToWord) {
						return nil, errors.Errorf("question %s: answer offset %d out of range", qa.ID, answer.AnswerStart)
					}
					ex.OrigAnswerText = answer.Text
					ex.StartPosition = charToWord[answer.AnswerStart]
					ex.EndPosition = charToWord[last]
					if ex.StartPosition < 0 {
						klog.Warningf("Could not find answer for %s: offset %d is leading whitespace", qa.ID, answer.AnswerStart)
						continue
					}

					actual := strings.Join(docTokens[ex.StartPosition:ex.EndPosition+1], " ")
					cleaned := strings.Join(strings.Fields(answer.Text), " ")
					if !strings.Contains(actual, cleaned) {
						klog.Warningf("Could not find answer: %q vs. %q", actual, cleaned)
						continue
					}
				}
				examples = append(examples, ex)
			}
		}
	}
	return examples, nil
}
