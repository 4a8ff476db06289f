package extractor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	goeval "github.com/edisonguo/govaluate"
)

// ExtractScenes walks an archive tree concurrently and writes one
// JSON record per scene metadata document matching the pattern.
func ExtractScenes(rootDir string, conc int, pattern string, out io.Writer) error {
	absRootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return err
	}

	expr, err := parsePatternExpression(pattern)
	if err != nil {
		return err
	}

	crawler := NewPosixCrawler(conc, expr, out)
	err = crawler.Crawl(absRootDir)
	if err != nil {
		os.Stderr.Write([]byte(err.Error() + "\n"))
	}
	return nil
}

// parsePatternExpression compiles the file filter. The expression
// sees two variables: path, the absolute file path, and type, "f"
// for a file or "d" for a directory.
func parsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": struct{}{}, "type": struct{}{}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, validVariables)
			}
		}
	}
	return expr, nil
}

const DefaultMaxCrawlErrors = 1000

type PosixCrawler struct {
	Outputs    chan *SceneRecord
	Error      chan error
	wg         sync.WaitGroup
	concLimit  chan struct{}
	outputDone chan struct{}
	pattern    *goeval.EvaluableExpression
	out        io.Writer
}

func NewPosixCrawler(conc int, pattern *goeval.EvaluableExpression, out io.Writer) *PosixCrawler {
	if conc < 1 {
		conc = 1
	}
	return &PosixCrawler{
		Outputs:    make(chan *SceneRecord, 4096),
		Error:      make(chan error, 100),
		concLimit:  make(chan struct{}, conc),
		outputDone: make(chan struct{}, 1),
		pattern:    pattern,
		out:        out,
	}
}

func (pc *PosixCrawler) Crawl(currPath string) error {
	go pc.outputResult()

	pc.wg.Add(1)
	pc.concLimit <- struct{}{}
	pc.crawlDir(currPath, false)
	pc.wg.Wait()

	close(pc.Outputs)
	<-pc.outputDone

	close(pc.Error)
	var errors []string
	errCount := 0
	for err := range pc.Error {
		errors = append(errors, err.Error())
		errCount++
		if errCount >= DefaultMaxCrawlErrors {
			errors = append(errors, " ... too many errors")
			break
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf(strings.Join(errors, "\n"))
	}

	return nil
}

func (pc *PosixCrawler) crawlDir(currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer func() { <-pc.concLimit }()
	}
	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.sendError(err)
		return
	}

	for _, entry := range entries {
		filePath := path.Join(currPath, entry.Name())

		isDir := entry.IsDir()
		if !isDir && !entry.Type().IsRegular() {
			continue
		}

		if pc.pattern != nil {
			result, err := pc.evaluatePatternExpression(filePath, isDir)
			if err != nil {
				pc.sendError(err)
				continue
			}
			if !result {
				continue
			}
		}

		if isDir {
			pc.wg.Add(1)
			select {
			case pc.concLimit <- struct{}{}:
				go func(p string) {
					pc.crawlDir(p, false)
				}(filePath)
			default:
				pc.crawlDir(filePath, true)
			}
			continue
		}

		record, err := ExtractSceneYaml(filePath)
		if err != nil {
			pc.sendError(err)
			continue
		}
		pc.Outputs <- record
	}
}

func (pc *PosixCrawler) sendError(err error) {
	select {
	case pc.Error <- err:
	default:
	}
}

func (pc *PosixCrawler) evaluatePatternExpression(filePath string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}

	parameters := map[string]interface{}{"type": fileType, "path": filePath}
	result, err := pc.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}

func (pc *PosixCrawler) outputResult() {
	for record := range pc.Outputs {
		out, _ := json.Marshal(record)
		fmt.Fprintf(pc.out, "%s\n", out)
	}
	pc.outputDone <- struct{}{}
}
