package tokengate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// testKey はテスト用の検証鍵。
var testKey = []byte("test-secret-key-for-unit-tests-0123456789")

// testUserID はテスト用のユーザーID。
const testUserID = "7f1d2c3b-4a5e-4f60-8a7b-9c0d1e2f3a4b"

// newTestGate はテスト用のGateを生成する。
func newTestGate(t *testing.T, opts ...Option) *Gate {
	t.Helper()

	g, err := NewGate(StaticKey(testKey), opts...)
	if err != nil {
		t.Fatalf("NewGate()でエラーが発生: %v", err)
	}
	return g
}

// signClaims は任意のクレームを指定の鍵とアルゴリズムで署名する。
func signClaims(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return signed
}

// validClaims は必須クレームを満たすクレームを返す。
func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		ClaimSubject: "a@b.com",
		ClaimUserID:  testUserID,
	}
}

// assertInvalid はOutcomeが指定理由の検証失敗であることを検証する。
func assertInvalid(t *testing.T, got Outcome, want Reason) {
	t.Helper()

	if got.Status != StatusInvalid {
		t.Fatalf("Status = %v, want %v", got.Status, StatusInvalid)
	}
	if got.Reason != want {
		t.Errorf("Reason = %q, want %q (err=%v)", got.Reason, want, got.Err)
	}
	var gateErr *Error
	if !errors.As(got.Err, &gateErr) {
		t.Fatalf("Errが*Errorではない: %T", got.Err)
	}
	if gateErr.Reason != want {
		t.Errorf("Error.Reason = %q, want %q", gateErr.Reason, want)
	}
	if !got.Identity.IsZero() {
		t.Errorf("失敗時にIdentityが設定されている: %+v", got.Identity)
	}
}

// TestNewGate はNewGate関数を検証する。
func TestNewGate(t *testing.T) {
	t.Parallel()

	t.Run("KeyProviderがnilの場合エラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewGate(nil); err == nil {
			t.Fatal("nilのKeyProviderでエラーが返るべき")
		}
	})

	t.Run("空の鍵の場合エラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewGate(StaticKey(nil)); err == nil {
			t.Fatal("空の鍵でエラーが返るべき")
		}
	})

	t.Run("KeyProviderのエラーが起動時エラーとして返ること", func(t *testing.T) {
		t.Parallel()

		want := errors.New("鍵ストアに接続できません")
		_, err := NewGate(failingKey{err: want})
		if !errors.Is(err, want) {
			t.Fatalf("err = %v, want %v", err, want)
		}
	})

	t.Run("鍵は生成時に一度だけ読み込まれること", func(t *testing.T) {
		t.Parallel()

		kp := &countingKey{key: testKey}
		g, err := NewGate(kp)
		if err != nil {
			t.Fatalf("NewGate()でエラーが発生: %v", err)
		}
		header := BearerPrefix + signClaims(t, jwt.SigningMethodHS256, testKey, validClaims())
		for range 3 {
			g.Authenticate(header)
		}
		if kp.calls != 1 {
			t.Errorf("VerificationKey()の呼び出し回数 = %d, want 1", kp.calls)
		}
	})

	t.Run("署名アルゴリズムが空の場合エラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewGate(StaticKey(testKey), WithMethods()); err == nil {
			t.Fatal("アルゴリズム未指定でエラーが返るべき")
		}
	})
}

// TestAuthenticate はAuthenticateの各結果を検証する。
func TestAuthenticate(t *testing.T) {
	t.Parallel()

	g := newTestGate(t)

	t.Run("ヘッダーが空の場合NoCredentialになること", func(t *testing.T) {
		t.Parallel()

		got := g.Authenticate("")
		if got.Status != StatusNoCredential {
			t.Errorf("Status = %v, want %v", got.Status, StatusNoCredential)
		}
		if got.Err != nil {
			t.Errorf("Err = %v, want nil", got.Err)
		}
	})

	t.Run("Bearer以外のスキームはNoCredentialになること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS256, testKey, validClaims())
		headers := []string{
			"Basic dXNlcjpwYXNz",
			"bearer " + token,
			"BEARER " + token,
			"Bearer",
			"Bearer\t" + token,
			token,
		}
		for _, h := range headers {
			if got := g.Authenticate(h); got.Status != StatusNoCredential {
				t.Errorf("Authenticate(%q).Status = %v, want %v", h, got.Status, StatusNoCredential)
			}
		}
	})

	t.Run("接頭辞の後が空の場合Malformedになること", func(t *testing.T) {
		t.Parallel()

		assertInvalid(t, g.Authenticate("Bearer "), ReasonMalformed)
	})

	t.Run("セグメント数が不正な場合Malformedになること", func(t *testing.T) {
		t.Parallel()

		assertInvalid(t, g.Authenticate("Bearer invalid-token-string"), ReasonMalformed)
		assertInvalid(t, g.Authenticate("Bearer a.b"), ReasonMalformed)
	})

	t.Run("ペイロードがJSONでない場合Malformedになること", func(t *testing.T) {
		t.Parallel()

		assertInvalid(t, g.Authenticate("Bearer eyJhbGciOiJIUzI1NiJ9.bm90LWpzb24.c2ln"), ReasonMalformed)
	})

	t.Run("有効なトークンでAuthenticatedになること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS256, testKey, validClaims())
		got := g.Authenticate(BearerPrefix + token)
		if got.Status != StatusAuthenticated {
			t.Fatalf("Status = %v, want %v (err=%v)", got.Status, StatusAuthenticated, got.Err)
		}
		if got.Identity.UserID().String() != testUserID {
			t.Errorf("UserID = %q, want %q", got.Identity.UserID(), testUserID)
		}
		if got.Identity.Subject() != "a@b.com" {
			t.Errorf("Subject = %q, want %q", got.Identity.Subject(), "a@b.com")
		}
		if !got.Authenticated() {
			t.Error("Authenticated() = false, want true")
		}
	})

	t.Run("HS512で署名されたトークンも受け付けること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS512, testKey, validClaims())
		if got := g.Authenticate(BearerPrefix + token); got.Status != StatusAuthenticated {
			t.Errorf("Status = %v, want %v (err=%v)", got.Status, StatusAuthenticated, got.Err)
		}
	})

	t.Run("期限内のexpを持つトークンでAuthenticatedになること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims["exp"] = time.Now().Add(time.Hour).Unix()
		token := signClaims(t, jwt.SigningMethodHS256, testKey, claims)
		if got := g.Authenticate(BearerPrefix + token); got.Status != StatusAuthenticated {
			t.Errorf("Status = %v, want %v (err=%v)", got.Status, StatusAuthenticated, got.Err)
		}
	})

	t.Run("期限切れトークンでExpiredになること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		token := signClaims(t, jwt.SigningMethodHS256, testKey, claims)
		got := g.Authenticate(BearerPrefix + token)
		assertInvalid(t, got, ReasonExpired)
		if !errors.Is(got.Err, jwt.ErrTokenExpired) {
			t.Errorf("Errがjwt.ErrTokenExpiredをラップしていない: %v", got.Err)
		}
	})

	t.Run("異なる鍵で署名されたトークンでSignatureInvalidになること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS256, []byte("different-secret"), validClaims())
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonSignatureInvalid)
	})

	t.Run("異なる鍵で署名された期限切れトークンはSignatureInvalidになること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		token := signClaims(t, jwt.SigningMethodHS256, []byte("different-secret"), claims)
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonSignatureInvalid)
	})

	t.Run("署名部分が改ざんされたトークンでSignatureInvalidになること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS256, testKey, validClaims())
		idx := strings.LastIndex(token, ".")
		tampered := token[:idx+1] + "AAAA" + token[idx+5:]
		assertInvalid(t, g.Authenticate(BearerPrefix+tampered), ReasonSignatureInvalid)
	})

	t.Run("alg=noneのトークンでSignatureInvalidになること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims())
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonSignatureInvalid)
	})

	t.Run("userIdクレームが無い場合ClaimMissingになること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{ClaimSubject: "a@b.com"})
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonClaimMissing)
	})

	t.Run("subクレームが無い場合ClaimMissingになること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{ClaimUserID: testUserID})
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonClaimMissing)
	})

	t.Run("subクレームが空文字の場合ClaimMissingになること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims[ClaimSubject] = ""
		token := signClaims(t, jwt.SigningMethodHS256, testKey, claims)
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonClaimMissing)
	})

	t.Run("subクレームが文字列でない場合ClaimInvalidになること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims[ClaimSubject] = 42
		token := signClaims(t, jwt.SigningMethodHS256, testKey, claims)
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonClaimInvalid)
	})

	t.Run("userIdがUUID形式でない場合ClaimInvalidになること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims[ClaimUserID] = "user-123"
		token := signClaims(t, jwt.SigningMethodHS256, testKey, claims)
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonClaimInvalid)
	})

	t.Run("userIdが文字列でない場合ClaimInvalidになること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims[ClaimUserID] = 12345
		token := signClaims(t, jwt.SigningMethodHS256, testKey, claims)
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonClaimInvalid)
	})

	t.Run("expが数値でない場合ClaimInvalidになること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims["exp"] = "tomorrow"
		token := signClaims(t, jwt.SigningMethodHS256, testKey, claims)
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonClaimInvalid)
	})

	t.Run("同じヘッダーで2回呼んでも同じ結果になること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS256, testKey, validClaims())
		first := g.Authenticate(BearerPrefix + token)
		second := g.Authenticate(BearerPrefix + token)
		if first.Status != second.Status || first.Identity != second.Identity || first.Reason != second.Reason {
			t.Errorf("結果が一致しない: first=%+v, second=%+v", first, second)
		}

		bad := g.Authenticate("Bearer x.y.z")
		badAgain := g.Authenticate("Bearer x.y.z")
		if bad.Status != badAgain.Status || bad.Reason != badAgain.Reason {
			t.Errorf("失敗結果が一致しない: first=%+v, second=%+v", bad, badAgain)
		}
	})
}

// TestAuthenticateClock は時刻とleewayの設定を検証する。
func TestAuthenticateClock(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	claims := validClaims()
	claims["exp"] = issued.Add(time.Minute).Unix()
	token := signClaims(t, jwt.SigningMethodHS256, testKey, claims)

	t.Run("時計がexpより前ならAuthenticatedになること", func(t *testing.T) {
		t.Parallel()

		g := newTestGate(t, WithClock(func() time.Time { return issued }))
		if got := g.Authenticate(BearerPrefix + token); got.Status != StatusAuthenticated {
			t.Errorf("Status = %v, want %v (err=%v)", got.Status, StatusAuthenticated, got.Err)
		}
	})

	t.Run("時計がexpを過ぎればExpiredになること", func(t *testing.T) {
		t.Parallel()

		g := newTestGate(t, WithClock(func() time.Time { return issued.Add(2 * time.Minute) }))
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonExpired)
	})

	t.Run("leewayの範囲内ならAuthenticatedになること", func(t *testing.T) {
		t.Parallel()

		g := newTestGate(t,
			WithClock(func() time.Time { return issued.Add(2 * time.Minute) }),
			WithLeeway(5*time.Minute),
		)
		if got := g.Authenticate(BearerPrefix + token); got.Status != StatusAuthenticated {
			t.Errorf("Status = %v, want %v (err=%v)", got.Status, StatusAuthenticated, got.Err)
		}
	})
}

// TestWithMethods は受け付けるアルゴリズムの制限を検証する。
func TestWithMethods(t *testing.T) {
	t.Parallel()

	g := newTestGate(t, WithMethods("HS256"))

	t.Run("許可されていないアルゴリズムはSignatureInvalidになること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS384, testKey, validClaims())
		assertInvalid(t, g.Authenticate(BearerPrefix+token), ReasonSignatureInvalid)
	})

	t.Run("許可されたアルゴリズムは受け付けること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS256, testKey, validClaims())
		if got := g.Authenticate(BearerPrefix + token); got.Status != StatusAuthenticated {
			t.Errorf("Status = %v, want %v (err=%v)", got.Status, StatusAuthenticated, got.Err)
		}
	})
}

// TestAuthenticateRequest はAuthenticateRequestを検証する。
func TestAuthenticateRequest(t *testing.T) {
	t.Parallel()

	g := newTestGate(t)

	t.Run("Authorizationヘッダーの無いリクエストはNoCredentialになること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if got := g.AuthenticateRequest(req); got.Status != StatusNoCredential {
			t.Errorf("Status = %v, want %v", got.Status, StatusNoCredential)
		}
	})

	t.Run("nilリクエストはNoCredentialになること", func(t *testing.T) {
		t.Parallel()

		if got := g.AuthenticateRequest(nil); got.Status != StatusNoCredential {
			t.Errorf("Status = %v, want %v", got.Status, StatusNoCredential)
		}
	})

	t.Run("Authorizationヘッダーのトークンを検証すること", func(t *testing.T) {
		t.Parallel()

		token := signClaims(t, jwt.SigningMethodHS256, testKey, validClaims())
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if got := g.AuthenticateRequest(req); got.Status != StatusAuthenticated {
			t.Errorf("Status = %v, want %v (err=%v)", got.Status, StatusAuthenticated, got.Err)
		}
	})
}

// TestAuthenticateConcurrent は並行呼び出しで結果が変わらないことを検証する。
func TestAuthenticateConcurrent(t *testing.T) {
	t.Parallel()

	g := newTestGate(t)
	want := uuid.MustParse(testUserID)
	header := BearerPrefix + signClaims(t, jwt.SigningMethodHS256, testKey, validClaims())

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := g.Authenticate(header)
			if got.Status != StatusAuthenticated || got.Identity.UserID() != want {
				errs <- got.Status.String()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for s := range errs {
		t.Errorf("並行呼び出しで想定外の結果: %s", s)
	}
}

// failingKey は常にエラーを返すKeyProvider。
type failingKey struct {
	err error
}

func (f failingKey) VerificationKey() ([]byte, error) {
	return nil, f.err
}

// countingKey は呼び出し回数を記録するKeyProvider。
type countingKey struct {
	key   []byte
	calls int
}

func (c *countingKey) VerificationKey() ([]byte, error) {
	c.calls++
	return c.key, nil
}
