package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/John-Robertt/MRID/internal/app/run"
	"github.com/John-Robertt/MRID/internal/config"
	"github.com/John-Robertt/MRID/internal/domain"
	"github.com/John-Robertt/MRID/internal/infra/logx"
	"github.com/John-Robertt/MRID/internal/infra/repo"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "import":
		if code := importCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func importCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printImportUsage()
			return 0
		}
	}

	ia, err := parseImportArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printImportUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Path:     ia.Path,
		Apply:    ia.Apply,
		ApplySet: ia.ApplySet,
	})
	if err != nil {
		rr := reportForConfigError(cwdAbs, ia, err)
		emitReport(rr)
		return 1
	}

	// 日志一律走 stderr（stdout 只留给 ImportReport JSON）。
	log := logx.New(os.Stderr, eff.LogLevel, isTTY(os.Stderr))

	deps := run.Deps{Log: log}
	if eff.Apply && eff.DSN != "" {
		db, err := sql.Open("mysql", eff.DSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "打开数据库失败：%v\n", err)
			return 1
		}
		defer db.Close()

		r, err := repo.NewMySQLRepo(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "初始化 repository 失败：%v\n", err)
			return 1
		}
		defer r.Close()
		deps.Repo = r
	}

	rr := run.Execute(context.Background(), eff, deps)

	emitReport(rr)
	if rr.Summary.Failed == 0 {
		return 0
	}
	return 1
}

type importArgs struct {
	Path     string
	Apply    bool
	ApplySet bool
}

func parseImportArgs(args []string) (importArgs, error) {
	ia := importArgs{}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--apply":
			ia.Apply = true
			ia.ApplySet = true
		case len(a) > len("--apply=") && a[:len("--apply=")] == "--apply=":
			v := a[len("--apply="):]
			switch v {
			case "true":
				ia.Apply = true
			case "false":
				ia.Apply = false
			default:
				return importArgs{}, fmt.Errorf("--apply 只能是 true 或 false，实际是 %q", v)
			}
			ia.ApplySet = true
		case len(a) > 0 && a[0] == '-':
			return importArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if ia.Path != "" {
				return importArgs{}, fmt.Errorf("重复的 path：%q 与 %q", ia.Path, a)
			}
			ia.Path = a
		}
	}
	return ia, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  mrid import [path] [--apply[=true|false]]

命令：
  import    扫描并入库原始影像目录（默认 dry-run）

使用 "mrid import --help" 查看详细说明。
`)
}

func printImportUsage() {
	fmt.Fprint(os.Stdout, `用法：
  mrid import [path] [--apply[=true|false]]

参数：
  --apply     执行数据库写入（默认 dry-run 只产出报告）；支持 --apply=false 覆盖配置中的 apply=true
  -h, --help  显示帮助
`)
}

func emitReport(rr domain.ImportReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintf(os.Stdout, "完成：indexed=%d skipped=%d failed=%d\n",
			rr.Summary.Indexed, rr.Summary.Skipped, rr.Summary.Failed,
		)
		if rr.Summary.Failed > 0 {
			for _, it := range rr.Items {
				if it.Status != domain.StatusFailed {
					continue
				}
				key := it.Dir
				if key == "" {
					key = "<unknown>"
				}
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 ImportReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintf(os.Stderr, "完成：indexed=%d skipped=%d failed=%d\n",
		rr.Summary.Indexed, rr.Summary.Skipped, rr.Summary.Failed,
	)
}

func reportForConfigError(cwdAbs string, ia importArgs, err error) domain.ImportReport {
	now := time.Now().UTC()
	rr := domain.ImportReport{
		Path:       cwdAbs,
		DryRun:     !(ia.ApplySet && ia.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
