package router

import "testing"

func TestDefaultClassifiesAuthEndpoints(t *testing.T) {
	r := NewDefault()
	if kind, ok := r.Lookup("/login.html"); !ok || kind != RouteAuth {
		t.Fatalf("Lookup(/login.html) = (%v, %v), want (RouteAuth, true)", kind, ok)
	}
	if kind, ok := r.Lookup("/register.html"); !ok || kind != RouteAuth {
		t.Fatalf("Lookup(/register.html) = (%v, %v), want (RouteAuth, true)", kind, ok)
	}
}

func TestStaticPathsDoNotMatch(t *testing.T) {
	r := NewDefault()
	if _, ok := r.Lookup("/index.html"); ok {
		t.Fatal("/index.html should not classify as a registered route")
	}
	if _, ok := r.Lookup("/login"); ok {
		t.Fatal("/login (no suffix) should not match /login.html")
	}
}

func TestInsertSplitsOnCommonPrefix(t *testing.T) {
	r := New()
	r.Insert("/login.html", RouteAuth)
	r.Insert("/logout.html", RouteStatic)

	if kind, ok := r.Lookup("/login.html"); !ok || kind != RouteAuth {
		t.Fatalf("Lookup(/login.html) after split = (%v, %v)", kind, ok)
	}
	if kind, ok := r.Lookup("/logout.html"); !ok || kind != RouteStatic {
		t.Fatalf("Lookup(/logout.html) after split = (%v, %v)", kind, ok)
	}
	if _, ok := r.Lookup("/log"); ok {
		t.Fatal("/log is only a shared prefix, not an inserted route")
	}
}

func TestLookupTagHelper(t *testing.T) {
	if kind, ok := LookupTag("/register.html"); !ok || kind != RouteAuth {
		t.Fatalf("LookupTag(/register.html) = (%v, %v)", kind, ok)
	}
	if _, ok := LookupTag("/picture.html"); ok {
		t.Fatal("/picture.html is not an auth endpoint")
	}
}
