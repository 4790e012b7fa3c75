// Package directory はトークンの userId を照合するためのユーザーディレクトリを提供する。
//
// ゲート本体は署名検証のみを行い、ディレクトリを参照しない。
// ユーザーの存在・有効状態の照合はミドルウェアの任意設定として有効化する。
package directory
