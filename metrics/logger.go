package metrics

import (
	"fmt"
	"log"
	"os"
	"path"
	"time"
)

type Logger interface {
	Log(info *MetricsInfo)
}

type StdoutLogger struct{}

func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{}
}

func (l *StdoutLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err == nil {
		log.Print(infoStr)
	} else {
		log.Printf("StdoutLogger: error: %v", err)
	}
}

const defaultQueueSize = 2000
const defaultMaxLogFileSize = 256 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger writes one JSON document per request to a log file,
// rotating by size with a bounded number of rotated files.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
	}

	go logger.startLogWriter()

	return logger
}

func (l *FileLogger) Log(info *MetricsInfo) {
	l.MetricsQueue <- info
}

func (l *FileLogger) logFilePath() string {
	return path.Join(l.LogDir, "metrics.log")
}

func (l *FileLogger) startLogWriter() {
	f, err := l.openLogFile()
	if err != nil {
		log.Printf("FileLogger: log open error: %v", err)
	}

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Printf("FileLogger: info.ToJSON() error: %v", err)
			continue
		}

		f, err = l.tryRotateLogFile(f)
		if err != nil {
			continue
		}

		_, err = f.WriteString(infoStr)
		if err != nil {
			log.Printf("FileLogger: write error: %v", err)
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) openLogFile() (*os.File, error) {
	return os.OpenFile(l.logFilePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File) (*os.File, error) {
	info, err := currFile.Stat()
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
		return currFile, nil
	}

	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	// Pick the first free rotation slot, or reclaim the oldest one
	// once all slots are taken.
	var rotatedLogFilePath string
	var oldestPath string
	oldestTime := time.Now()
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := path.Join(l.LogDir, fmt.Sprintf("metrics.log.%d", i))
		st, err := os.Stat(filePath)
		if os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
		if err == nil && st.ModTime().Before(oldestTime) {
			oldestPath = filePath
			oldestTime = st.ModTime()
		}
	}

	if len(rotatedLogFilePath) == 0 {
		rotatedLogFilePath = oldestPath
		if l.Verbose {
			log.Printf("FileLogger: maximum number of log files reached, overwriting %s", rotatedLogFilePath)
		}
		err = os.Remove(rotatedLogFilePath)
		if err != nil {
			log.Printf("FileLogger: log rotation error: %v", err)
			return currFile, nil
		}
	}

	currFile.Close()
	err = os.Rename(l.logFilePath(), rotatedLogFilePath)
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
		return currFile, nil
	}

	if l.Verbose {
		log.Printf("FileLogger: log file rotated: %v", rotatedLogFilePath)
	}

	f, err := l.openLogFile()
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
	}

	return f, err
}
