// mealdash はAPIサーバー、クリーンアップワーカー、マイグレーション、疎通確認を1つのバイナリで提供する。
//
//	mealdash [serve|worker|migrate|healthcheck|smoke]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/mealdash/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
