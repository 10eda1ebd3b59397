package richtext

import "regexp"

// 自動リンクの各パターンは、文字列の先頭/末尾・空白・改行マーカーのいずれかに
// 挟まれた場合のみマッチする。既存のタグ内やリンク内の文字列には反応しない。
const (
	leading  = `((?:^|\s|<br/>)+)`
	trailing = `((?:$|\s|<br/>)+)`

	goodIRIChar = `a-zA-Z0-9\x{00A0}-\x{D7FF}\x{F900}-\x{FDCF}\x{FDF0}-\x{FFEF}`
	ipAddress   = `(?:(?:25[0-5]|2[0-4][0-9]|[0-1][0-9]{2}|[1-9][0-9]|[1-9])\.` +
		`(?:25[0-5]|2[0-4][0-9]|[0-1][0-9]{2}|[1-9][0-9]|[1-9]|0)\.` +
		`(?:25[0-5]|2[0-4][0-9]|[0-1][0-9]{2}|[1-9][0-9]|[1-9]|0)\.` +
		`(?:25[0-5]|2[0-4][0-9]|[0-1][0-9]{2}|[1-9][0-9]|[0-9]))`
	iri        = `[` + goodIRIChar + `](?:[` + goodIRIChar + `\-]{0,61}[` + goodIRIChar + `])?`
	gtld       = `[a-zA-Z\x{00C0}-\x{D7FF}\x{F900}-\x{FDCF}\x{FDF0}-\x{FFEF}]{2,63}`
	hostName   = `(?:` + iri + `\.)+` + gtld
	domainName = `(?:` + hostName + `|` + ipAddress + `)`
	iriPart    = `(?:/(?:(?:[` + goodIRIChar + `;/\?:@&=#~\-\.\+!\*'\(\),_])|(?:%[a-fA-F0-9]{2}))*)?`

	// URLの終端は単語境界でもよい（末尾の句読点をリンクに含めない）
	urlTrailing = `((?:\b|$|<br/>)+)`
)

var (
	emailPattern = regexp.MustCompile(leading +
		`([a-zA-Z0-9\+\._%\-]{1,256}@[a-zA-Z0-9][a-zA-Z0-9\-]{0,64}` +
		`(?:\.[a-zA-Z0-9][a-zA-Z0-9\-]{0,25}))` +
		trailing)

	webURLNoProtoPattern = regexp.MustCompile(leading +
		`((?:` + domainName + `(?::\d{1,5})?)` + iriPart + `)` +
		urlTrailing)

	webURLPattern = regexp.MustCompile(leading +
		`((?:(?:(?:http|https|Http|Https|rtsp|Rtsp)://(?:(?:[a-zA-Z0-9\$\-_\.\+!\*'\(\),;\?&=]|(?:%[a-fA-F0-9]{2})){1,64}` +
		`(?::(?:[a-zA-Z0-9\$\-_\.\+!\*\(\),;\?&=]|(?:%[a-fA-F0-9]{2})){1,25})?@)?)?` +
		domainName + `(?::\d{1,5})?)` + iriPart + `)` +
		urlTrailing)

	// 最後の数字列を10桁以上に制限し、日付（2015-02-02など）にはマッチさせない
	phonePattern = regexp.MustCompile(leading +
		`((?:\+[0-9]+[\- \.]*)?(?:\([0-9]+\)[\- \.]*)?(?:[0-9][0-9\- \.]{9,}[0-9]))` +
		trailing)
)

// linkEmails はメールアドレスをmailtoリンクに変換する。
func linkEmails(s string) string {
	return emailPattern.ReplaceAllString(s, `${1}<a href="mailto:${2}">${2}</a>${3}`)
}

// linkBareDomains はプロトコルのないドメイン・URLをhttpリンクに変換する。
func linkBareDomains(s string) string {
	return webURLNoProtoPattern.ReplaceAllString(s, `${1}<a href="http://${2}">${2}</a>${3}`)
}

// linkWebURLs はプロトコル付きURLをリンクに変換する。
func linkWebURLs(s string) string {
	return webURLPattern.ReplaceAllString(s, `${1}<a href="${2}">${2}</a>${3}`)
}

// linkPhones は電話番号らしい数字列をtelリンクに変換する。
func linkPhones(s string) string {
	return phonePattern.ReplaceAllString(s, `${1}<a href="tel:${2}">${2}</a>${3}`)
}
