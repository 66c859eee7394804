// Package config はゲートウェイの設定を読み込む。
//
// プロセスの設定は環境変数から、ルート表はYAMLまたはJSONのルート定義ファイルから読み込む。
// 必須の設定が欠けている場合は起動を中止できるよう、欠けている項目をすべて名前付きで報告する。
package config
